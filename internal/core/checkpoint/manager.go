package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/metrics"
	"github.com/vietddude/marketmonitor/internal/infra/storage"
)

// Manager wraps the checkpoint repository with regression handling, metrics
// and per-stream pipeline state.
type Manager struct {
	repo          storage.CheckpointRepository
	mu            sync.RWMutex
	states        map[domain.StreamKey]State
	collectors    map[domain.StreamKey]*MetricsCollector
	stateCallback func(domain.StreamKey, Transition)
}

// Get returns the stored checkpoint of a stream.
func (m *Manager) Get(ctx context.Context, stream domain.StreamKey) (uint64, bool, error) {
	return m.repo.Get(ctx, stream)
}

// List returns all stored checkpoints.
func (m *Manager) List(ctx context.Context) ([]domain.Checkpoint, error) {
	return m.repo.List(ctx)
}

// Advance records block as the new checkpoint. A lower block than the stored
// one is logged and returned as a *domain.RegressionError; the stored value
// is left intact.
func (m *Manager) Advance(ctx context.Context, stream domain.StreamKey, block uint64) error {
	if err := m.repo.Set(ctx, stream, block); err != nil {
		var regErr *domain.RegressionError
		if errors.As(err, &regErr) {
			slog.Warn("Checkpoint regression rejected",
				"stream", stream.String(),
				"stored", regErr.Current,
				"attempted", regErr.Attempted,
			)
			return err
		}
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	metrics.CheckpointBlock.WithLabelValues(stream.ChainID.String(), stream.Contract).Set(float64(block))

	m.mu.Lock()
	m.collector(stream).RecordAdvance(block, time.Now())
	m.mu.Unlock()

	return nil
}

// GetLag returns how many blocks the stream's checkpoint trails head.
func (m *Manager) GetLag(ctx context.Context, stream domain.StreamKey, head uint64) (int64, error) {
	block, _, err := m.repo.Get(ctx, stream)
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return int64(head) - int64(block), nil
}

// State returns the pipeline state of a stream (StateInit if never set).
func (m *Manager) State(stream domain.StreamKey) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[stream]; ok {
		return s
	}
	return StateInit
}

// SetState transitions the stream's pipeline to a new state.
func (m *Manager) SetState(stream domain.StreamKey, newState State, reason string) error {
	m.mu.Lock()

	current, ok := m.states[stream]
	if !ok {
		current = StateInit
	}
	if current == newState {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(current, newState) {
		m.mu.Unlock()
		return fmt.Errorf(
			"%w: cannot transition from %s to %s",
			ErrInvalidTransition,
			current,
			newState,
		)
	}

	transition := NewTransition(current, newState, reason)
	m.states[stream] = newState
	m.collector(stream).RecordTransition(transition)
	callback := m.stateCallback
	m.mu.Unlock()

	if callback != nil {
		callback(stream, transition)
	}
	return nil
}

// GetMetrics returns progress metrics for a stream.
func (m *Manager) GetMetrics(stream domain.StreamKey) Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if collector, ok := m.collectors[stream]; ok {
		return collector.GetMetrics()
	}
	return Metrics{}
}

// SetStateChangeCallback registers a callback for state changes.
func (m *Manager) SetStateChangeCallback(fn func(stream domain.StreamKey, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

// collector must be called with mu held.
func (m *Manager) collector(stream domain.StreamKey) *MetricsCollector {
	c, ok := m.collectors[stream]
	if !ok {
		c = NewMetricsCollector(100)
		m.collectors[stream] = c
	}
	return c
}
