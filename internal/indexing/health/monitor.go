package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/checkpoint"
	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/infra/rpc"
)

// Lag thresholds, in blocks, on top of Target.LagAllowance.
const (
	degradedLag = 10
	criticalLag = 100
)

// LagAllowance returns how many blocks a live stream's checkpoint normally
// trails the head by: the checkpoint only moves on sweeps, so up to two sweep
// intervals of blocks may be mined in between.
func LagAllowance(sweepInterval, blockTime time.Duration) uint64 {
	if sweepInterval <= 0 || blockTime <= 0 {
		return 0
	}
	window := 2 * sweepInterval
	return uint64((window + blockTime - 1) / blockTime)
}

// HeadFetcher fetches the latest block height of a chain.
type HeadFetcher interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// ProviderLister exposes the RPC providers of a chain.
type ProviderLister interface {
	GetAllProviders() []*rpc.Provider
}

// Target is one monitored stream.
type Target struct {
	Stream    domain.StreamKey
	Head      HeadFetcher
	Providers ProviderLister // optional
	// LagAllowance is added to the lag thresholds; see LagAllowance.
	LagAllowance uint64
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	targets     []Target
	checkpoints *checkpoint.Manager
	cacheTTL    time.Duration
	lastCheck   time.Time
	lastReport  map[string]StreamHealth
	mu          sync.Mutex
}

// NewMonitor creates a new health monitor. Reports are cached for cacheTTL
// to avoid spamming RPC providers.
func NewMonitor(checkpoints *checkpoint.Manager, cacheTTL time.Duration, targets ...Target) *Monitor {
	return &Monitor{
		targets:     targets,
		checkpoints: checkpoints,
		cacheTTL:    cacheTTL,
		lastReport:  make(map[string]StreamHealth),
	}
}

// AddTarget registers another stream.
func (m *Monitor) AddTarget(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, t)
	m.lastCheck = time.Time{}
}

// CheckHealth performs a health check for all streams.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]StreamHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cacheTTL > 0 && time.Since(m.lastCheck) < m.cacheTTL && len(m.lastReport) > 0 {
		return m.lastReport
	}

	report := make(map[string]StreamHealth, len(m.targets))
	for _, t := range m.targets {
		report[t.Stream.String()] = m.checkStream(ctx, t)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

func (m *Monitor) checkStream(ctx context.Context, t Target) StreamHealth {
	state := m.checkpoints.State(t.Stream)
	health := StreamHealth{
		Stream:     t.Stream.String(),
		ChainID:    uint64(t.Stream.ChainID),
		Contract:   t.Stream.Contract,
		Status:     StatusHealthy,
		State:      string(state),
		Reconnects: m.checkpoints.GetMetrics(t.Stream).Reconnects,
	}

	headKnown := false
	if t.Head != nil {
		if head, err := t.Head.LatestBlock(ctx); err == nil {
			health.Head = head
			headKnown = true
		}
	}
	if block, found, err := m.checkpoints.Get(ctx, t.Stream); err == nil && found {
		health.Checkpoint = block
	}
	if headKnown && health.Head > health.Checkpoint {
		health.BlockLag = health.Head - health.Checkpoint
	}

	available := 0
	if t.Providers != nil {
		for _, p := range t.Providers.GetAllProviders() {
			h := p.GetHealth()
			if h.Available {
				available++
			}
			health.Providers = append(health.Providers, ProviderHealth{
				Name:      p.GetName(),
				Available: h.Available,
				ErrorRate: h.ErrorRate,
				LatencyMs: h.Latency.Milliseconds(),
				LastError: h.LastError,
			})
		}
	}

	switch {
	case state == checkpoint.StateStopped,
		health.BlockLag > criticalLag+t.LagAllowance,
		len(health.Providers) > 0 && available == 0:
		health.Status = StatusCritical
	case state != checkpoint.StateLive,
		!headKnown,
		health.BlockLag > degradedLag+t.LagAllowance:
		health.Status = StatusDegraded
	}
	return health
}
