// Package checkpoint tracks how far ingestion has progressed for each stream.
//
// # Purpose
//
// A checkpoint is the highest block for which every marketplace log has been
// decoded and durably appended. It bounds the reconciliation sweep after a
// restart: the sweep resumes at checkpoint+1.
//
// # Key Features
//
// Monotonic - Advance never moves a checkpoint backwards. A lower value is
// rejected with a *domain.RegressionError and the stored value is kept.
//
// Pipeline State - Each stream moves through a small state machine:
//
//	INIT → SWEEPING → LIVE ⇄ RECONNECTING → STOPPED
//
// Transitions are validated and reported to an optional callback.
//
// # Quick Start
//
//	manager := checkpoint.NewManager(checkpointRepo)
//
//	block, found, _ := manager.Get(ctx, stream)
//	manager.SetState(stream, checkpoint.StateSweeping, "startup reconciliation")
//	manager.Advance(ctx, stream, 60)  // ✓ OK
//	manager.Advance(ctx, stream, 50)  // ✗ RegressionError, stays at 60
//
// # Package Structure
//
//   - state.go   - Pipeline states and valid transitions
//   - manager.go - Manager with regression rejection, lag and state tracking
//   - metrics.go - Progress metrics (blocks/sec, state history)
package checkpoint

import (
	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/infra/storage"
)

// NewManager creates a new checkpoint manager with the given repository.
func NewManager(repo storage.CheckpointRepository) *Manager {
	return &Manager{
		repo:       repo,
		states:     make(map[domain.StreamKey]State),
		collectors: make(map[domain.StreamKey]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		records:     make([]advanceRecord, 0, windowSize),
		transitions: make([]Transition, 0, 10),
	}
}
