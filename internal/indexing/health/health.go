// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ProviderHealth summarizes one RPC provider.
type ProviderHealth struct {
	Name      string  `json:"name"`
	Available bool    `json:"available"`
	ErrorRate float64 `json:"error_rate"`
	LatencyMs int64   `json:"latency_ms"`
	LastError string  `json:"last_error,omitempty"`
}

// StreamHealth contains health metrics for one chain/contract stream.
type StreamHealth struct {
	Stream     string           `json:"stream"`
	ChainID    uint64           `json:"chain_id"`
	Contract   string           `json:"contract"`
	Status     SystemStatus     `json:"status"`
	State      string           `json:"state"`
	Checkpoint uint64           `json:"checkpoint"`
	Head       uint64           `json:"head"`
	BlockLag   uint64           `json:"block_lag"`
	Reconnects int              `json:"reconnects"`
	Providers  []ProviderHealth `json:"providers,omitempty"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus            `json:"system_status"`
	Streams      map[string]StreamHealth `json:"streams"`
}

// Overall returns the worst status in report.
func Overall(report map[string]StreamHealth) SystemStatus {
	status := StatusHealthy
	for _, s := range report {
		if s.Status == StatusCritical {
			return StatusCritical
		}
		if s.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
