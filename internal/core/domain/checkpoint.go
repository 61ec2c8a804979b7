package domain

import (
	"fmt"
	"strings"
	"time"
)

// StreamKey names one ingestion pipeline: a contract on a chain.
type StreamKey struct {
	ChainID  ChainID
	Contract string
}

// NewStreamKey normalizes the contract address so keys compare equal
// regardless of checksum casing.
func NewStreamKey(chainID ChainID, contract string) StreamKey {
	return StreamKey{ChainID: chainID, Contract: strings.ToLower(contract)}
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s/%s", k.ChainID, k.Contract)
}

// Checkpoint is the highest block for which ingestion is known complete.
type Checkpoint struct {
	Stream      StreamKey
	BlockNumber uint64
	UpdatedAt   time.Time
}
