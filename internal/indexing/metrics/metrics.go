package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested tracks appends per stream, kind and result (inserted / already_exists)
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_events_ingested_total",
			Help: "Total number of decoded events appended to the store",
		},
		[]string{"chain", "contract", "kind", "result", "source"},
	)

	// DecodeFailures tracks logs that could not be decoded
	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_decode_failures_total",
			Help: "Total number of raw logs dropped because they failed to decode",
		},
		[]string{"chain", "contract"},
	)

	// RemovedLogs tracks logs delivered with the removed flag (reorged out)
	RemovedLogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_removed_logs_total",
			Help: "Total number of logs skipped because the provider marked them removed",
		},
		[]string{"chain", "contract"},
	)

	// CheckpointBlock tracks the durable checkpoint per stream
	CheckpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_checkpoint_block",
			Help: "Highest block for which ingestion is complete",
		},
		[]string{"chain", "contract"},
	)

	// ChainLatestBlock tracks the latest block height of the chain
	ChainLatestBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "monitor_chain_latest_block",
			Help: "Latest block height of the chain",
		},
		[]string{"chain"},
	)

	// SweepChunks tracks sweep chunks by result (committed / retried / failed / split)
	SweepChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_sweep_chunks_total",
			Help: "Total number of reconciliation sweep chunks by result",
		},
		[]string{"chain", "contract", "result"},
	)

	// SubscriptionReconnects tracks live subscription re-establishments
	SubscriptionReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_subscription_reconnects_total",
			Help: "Total number of live subscription reconnect attempts",
		},
		[]string{"chain", "contract", "result"},
	)

	// RPCCallsTotal tracks RPC calls per chain and provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"chain", "provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per chain and provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"chain", "provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monitor_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "provider", "method"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "monitor_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the maximum",
		},
	)
)
