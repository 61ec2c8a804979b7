// Package rpc wraps go-ethereum JSON-RPC clients with health tracking,
// error classification, retry and failover across the configured providers.
//
// This package contains:
//   - Provider: one named endpoint with health and latency accounting
//   - Router: ordered failover across a chain's providers
//   - Retry: error classification and exponential backoff per provider
package rpc

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vietddude/marketmonitor/internal/indexing/metrics"
)

// EthClient is the subset of *ethclient.Client used by a Provider.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// HealthStatus describes a provider's recent behaviour.
type HealthStatus struct {
	Available        bool
	Latency          time.Duration
	ErrorRate        float64
	ConsecutiveFails int
	LastSuccessAt    time.Time
	LastFailureAt    time.Time
	LastError        string
}

const (
	// circuitThreshold consecutive failures open the circuit for circuitCooldown.
	circuitThreshold = 5
	circuitCooldown  = 30 * time.Second
)

// Provider is a named JSON-RPC endpoint.
type Provider struct {
	Name  string
	chain string

	client EthClient

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int
}

// NewProvider wraps an existing client.
func NewProvider(name, chain string, client EthClient) *Provider {
	return &Provider{
		Name:   name,
		chain:  chain,
		client: client,
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
	}
}

// Dial connects to url and wraps the client as a Provider.
func Dial(ctx context.Context, name, chain, url string) (*Provider, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewProvider(name, chain, client), nil
}

// GetName returns the provider's name.
func (p *Provider) GetName() string {
	return p.Name
}

// BlockNumber returns the latest block height.
func (p *Provider) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	n, err := p.client.BlockNumber(ctx)
	p.observe("eth_blockNumber", start, err)
	return n, err
}

// FilterLogs runs eth_getLogs.
func (p *Provider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	logs, err := p.client.FilterLogs(ctx, q)
	p.observe("eth_getLogs", start, err)
	return logs, err
}

// ChainID returns the EIP-155 chain id reported by the endpoint.
func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := p.client.ChainID(ctx)
	p.observe("eth_chainId", start, err)
	return id, err
}

// Close releases the underlying connection.
func (p *Provider) Close() {
	p.client.Close()
}

func (p *Provider) observe(method string, start time.Time, err error) {
	latency := time.Since(start)
	metrics.RPCCallsTotal.WithLabelValues(p.chain, p.Name, method).Inc()
	metrics.RPCLatency.WithLabelValues(p.chain, p.Name, method).Observe(latency.Seconds())

	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(p.chain, p.Name, ClassifyError(err).String()).Inc()
		p.RecordFailure(err)
		return
	}
	p.RecordSuccess(latency)
}

// GetHealth returns the provider's health status.
func (p *Provider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// IsAvailable reports whether the circuit is closed.
func (p *Provider) IsAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.health.ConsecutiveFails < circuitThreshold {
		return true
	}
	return time.Since(p.health.LastFailureAt) > circuitCooldown
}

func (p *Provider) RecordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true
	p.health.ConsecutiveFails = 0

	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	p.health.Latency = p.totalLatency / time.Duration(p.successCount)
}

func (p *Provider) RecordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.ConsecutiveFails++
	p.health.LastFailureAt = time.Now()
	if err != nil {
		p.health.LastError = err.Error()
	}

	p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	if p.health.ConsecutiveFails >= circuitThreshold {
		p.health.Available = false
	}
}
