package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

type MemoryStorage struct {
	events      map[domain.Identity]*domain.ChainEvent
	checkpoints map[domain.StreamKey]domain.Checkpoint
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		events:      make(map[domain.Identity]*domain.ChainEvent),
		checkpoints: make(map[domain.StreamKey]domain.Checkpoint),
	}
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	store *MemoryStorage
}

func NewEventRepo(store *MemoryStorage) *EventRepo {
	return &EventRepo{store: store}
}

func (r *EventRepo) Append(ctx context.Context, event *domain.ChainEvent) (domain.AppendResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := event.Identity()
	if _, ok := r.store.events[key]; ok {
		return domain.AppendAlreadyExists, nil
	}
	stored := *event
	if stored.ObservedAt.IsZero() {
		stored.ObservedAt = time.Now()
	}
	r.store.events[key] = &stored
	return domain.AppendInserted, nil
}

func (r *EventRepo) ListByKind(ctx context.Context, kind domain.EventKind) ([]*domain.ChainEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]*domain.ChainEvent, 0)
	for _, e := range r.store.events {
		if e.Kind() == kind {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *EventRepo) PurgeAll(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.events = make(map[domain.Identity]*domain.ChainEvent)
	return nil
}

// -----------------------------------------------------------------------------
// Checkpoint Repository
// -----------------------------------------------------------------------------

type CheckpointRepo struct {
	store *MemoryStorage
}

func NewCheckpointRepo(store *MemoryStorage) *CheckpointRepo {
	return &CheckpointRepo{store: store}
}

func (r *CheckpointRepo) Get(ctx context.Context, stream domain.StreamKey) (uint64, bool, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	cp, ok := r.store.checkpoints[stream]
	return cp.BlockNumber, ok, nil
}

func (r *CheckpointRepo) Set(ctx context.Context, stream domain.StreamKey, block uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if cp, ok := r.store.checkpoints[stream]; ok && block < cp.BlockNumber {
		return &domain.RegressionError{Stream: stream, Current: cp.BlockNumber, Attempted: block}
	}
	r.store.checkpoints[stream] = domain.Checkpoint{
		Stream:      stream,
		BlockNumber: block,
		UpdatedAt:   time.Now(),
	}
	return nil
}

func (r *CheckpointRepo) List(ctx context.Context) ([]domain.Checkpoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	out := make([]domain.Checkpoint, 0, len(r.store.checkpoints))
	for _, cp := range r.store.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stream.ChainID != out[j].Stream.ChainID {
			return out[i].Stream.ChainID < out[j].Stream.ChainID
		}
		return out[i].Stream.Contract < out[j].Stream.Contract
	})
	return out, nil
}
