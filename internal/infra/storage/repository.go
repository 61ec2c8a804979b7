package storage

import (
	"context"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// EventRepository is the durable, idempotent record of observed events.
type EventRepository interface {
	// Append inserts the event unless its identity (chain, tx hash, log index)
	// is already stored. A duplicate is reported as AppendAlreadyExists, never
	// as an error.
	Append(ctx context.Context, event *domain.ChainEvent) (domain.AppendResult, error)

	// ListByKind returns every stored event of the kind ordered by
	// (block number, log index) ascending.
	ListByKind(ctx context.Context, kind domain.EventKind) ([]*domain.ChainEvent, error)

	// PurgeAll deletes every stored event. Administrative use only.
	PurgeAll(ctx context.Context) error
}

// CheckpointRepository holds one monotonic checkpoint per stream.
type CheckpointRepository interface {
	// Get returns the checkpoint, or found=false when none was recorded.
	Get(ctx context.Context, stream domain.StreamKey) (block uint64, found bool, err error)

	// Set stores block as the new checkpoint. A block lower than the stored
	// value is rejected with a *domain.RegressionError.
	Set(ctx context.Context, stream domain.StreamKey, block uint64) error

	// List returns all recorded checkpoints.
	List(ctx context.Context) ([]domain.Checkpoint, error)
}
