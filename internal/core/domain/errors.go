package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned when the chain provider cannot be reached.
	ErrConnection = errors.New("provider connection failed")

	// ErrDecode is returned when a raw log cannot be decoded.
	ErrDecode = errors.New("event decode failed")

	// ErrCheckpointRegression is returned when a checkpoint would move backwards.
	ErrCheckpointRegression = errors.New("checkpoint regression")

	// ErrPersistence is returned when the event store is unavailable.
	ErrPersistence = errors.New("persistence failed")
)

// DecodeError describes a log that could not be turned into a ChainEvent.
type DecodeError struct {
	ChainID     ChainID
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
	Topic0      string
	Reason      string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf(
		"decode log %s:%d (block %d, topic0 %s): %s",
		e.TxHash, e.LogIndex, e.BlockNumber, e.Topic0, e.Reason,
	)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// RegressionError is returned when SetCheckpoint is called with a block lower
// than the stored one. The stored value is left untouched.
type RegressionError struct {
	Stream    StreamKey
	Current   uint64
	Attempted uint64
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf(
		"checkpoint regression for %s: stored %d, attempted %d",
		e.Stream, e.Current, e.Attempted,
	)
}

func (e *RegressionError) Is(target error) bool {
	return target == ErrCheckpointRegression
}
