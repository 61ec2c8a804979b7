package checkpoint

import (
	"time"
)

// advanceRecord holds timing data for a checkpoint advance.
type advanceRecord struct {
	BlockNumber uint64
	AdvancedAt  time.Time
}

// Metrics holds checkpoint progress data.
type Metrics struct {
	BlocksPerSecond float64
	LastAdvanceAt   *time.Time
	Reconnects      int
	StateHistory    []Transition
}

// MetricsCollector tracks checkpoint progress over time.
type MetricsCollector struct {
	windowSize  int             // number of advances to track
	records     []advanceRecord // ring buffer of advances
	transitions []Transition    // recent state changes
	reconnects  int
}

// RecordAdvance records a checkpoint advance.
func (mc *MetricsCollector) RecordAdvance(blockNumber uint64, at time.Time) {
	record := advanceRecord{BlockNumber: blockNumber, AdvancedAt: at}

	if len(mc.records) >= mc.windowSize {
		copy(mc.records, mc.records[1:])
		mc.records[len(mc.records)-1] = record
	} else {
		mc.records = append(mc.records, record)
	}
}

// RecordTransition records a state transition.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	// Keep only last 10 transitions
	if len(mc.transitions) >= 10 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}

	if t.To == StateReconnecting {
		mc.reconnects++
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		Reconnects:   mc.reconnects,
		StateHistory: make([]Transition, len(mc.transitions)),
	}
	copy(m.StateHistory, mc.transitions)

	if len(mc.records) > 0 {
		last := mc.records[len(mc.records)-1].AdvancedAt
		m.LastAdvanceAt = &last
	}

	// Blocks covered per second across the window
	if len(mc.records) >= 2 {
		first := mc.records[0]
		last := mc.records[len(mc.records)-1]
		duration := last.AdvancedAt.Sub(first.AdvancedAt)

		if duration > 0 && last.BlockNumber > first.BlockNumber {
			m.BlocksPerSecond = float64(last.BlockNumber-first.BlockNumber) / duration.Seconds()
		}
	}

	return m
}

// Reset clears all collected metrics.
func (mc *MetricsCollector) Reset() {
	mc.records = mc.records[:0]
	mc.transitions = mc.transitions[:0]
	mc.reconnects = 0
}
