package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/infra/chain"
)

// ErrChainMismatch is returned when a provider serves another network than
// the one it is configured for.
var ErrChainMismatch = errors.New("chain id mismatch")

// Router tries a chain's providers in order, starting from the last one that
// succeeded, and fails over on provider-specific errors.
type Router struct {
	chain string
	retry RetryConfig
	log   *slog.Logger

	mu        sync.RWMutex
	providers []*Provider
	preferred int
}

// NewRouter creates an empty router for a chain.
func NewRouter(chainName string, retry RetryConfig) *Router {
	return &Router{
		chain: chainName,
		retry: retry,
		log:   slog.Default().With("component", "rpc", "chain", chainName),
	}
}

// AddProvider registers a provider.
func (r *Router) AddProvider(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, p)
}

// GetAllProviders returns all providers in configuration order.
func (r *Router) GetAllProviders() []*Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// ordered returns providers starting at the preferred one, with providers
// whose circuit is open moved to the end.
func (r *Router) ordered() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.providers)
	var healthy, tripped []int
	for i := 0; i < n; i++ {
		idx := (r.preferred + i) % n
		if r.providers[idx].IsAvailable() {
			healthy = append(healthy, idx)
		} else {
			tripped = append(tripped, idx)
		}
	}
	return append(healthy, tripped...)
}

func (r *Router) provider(idx int) *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[idx]
}

func (r *Router) setPreferred(idx int) {
	r.mu.Lock()
	r.preferred = idx
	r.mu.Unlock()
}

// BlockNumber returns the latest block height.
func (r *Router) BlockNumber(ctx context.Context) (uint64, error) {
	return callWithFailover(ctx, r, func(ctx context.Context, p *Provider) (uint64, error) {
		return p.BlockNumber(ctx)
	})
}

// FilterLogs runs eth_getLogs. Range-limit errors are returned wrapped in
// chain.ErrRangeTooLarge without trying other providers.
func (r *Router) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return callWithFailover(ctx, r, func(ctx context.Context, p *Provider) ([]types.Log, error) {
		return p.FilterLogs(ctx, q)
	})
}

// VerifyChainID asks every provider for its chain id and fails if any of
// them serves a different network than want.
func (r *Router) VerifyChainID(ctx context.Context, want domain.ChainID) error {
	providers := r.GetAllProviders()
	if len(providers) == 0 {
		return fmt.Errorf("%w: no providers for chain %s", domain.ErrConnection, r.chain)
	}
	for _, p := range providers {
		got, err := CallWithRetry(ctx, r.retry, p.ChainID)
		if err != nil {
			return fmt.Errorf("%w: chain id from provider %s: %w", domain.ErrConnection, p.GetName(), err)
		}
		if !got.IsUint64() || domain.ChainID(got.Uint64()) != want {
			return fmt.Errorf("%w: provider %s serves chain %s, configured %s",
				ErrChainMismatch, p.GetName(), got, want)
		}
	}
	return nil
}

// Close closes every provider.
func (r *Router) Close() {
	for _, p := range r.GetAllProviders() {
		p.Close()
	}
}

func callWithFailover[T any](
	ctx context.Context,
	r *Router,
	fn func(context.Context, *Provider) (T, error),
) (T, error) {
	var (
		zero    T
		lastErr error
	)

	order := r.ordered()
	if len(order) == 0 {
		return zero, fmt.Errorf("%w: no providers for chain %s", domain.ErrConnection, r.chain)
	}

	for _, idx := range order {
		p := r.provider(idx)
		result, err := CallWithRetry(ctx, r.retry, func(ctx context.Context) (T, error) {
			return fn(ctx, p)
		})
		if err == nil {
			r.setPreferred(idx)
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		lastErr = err
		switch ClassifyError(err) {
		case ActionSplitRange:
			return zero, fmt.Errorf("%w: %w", chain.ErrRangeTooLarge, err)
		case ActionFatal:
			return zero, fmt.Errorf("fatal error from provider %s: %w", p.GetName(), err)
		}
		r.log.Warn("Provider failed, trying next", "provider", p.GetName(), "error", err)
	}

	return zero, fmt.Errorf("%w: all providers failed: %w", domain.ErrConnection, lastErr)
}
