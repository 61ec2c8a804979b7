// Package listener consumes the live log subscription of one stream.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/checkpoint"
	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/indexer"
	"github.com/vietddude/marketmonitor/internal/indexing/metrics"
	"github.com/vietddude/marketmonitor/internal/indexing/recovery"
	"github.com/vietddude/marketmonitor/internal/indexing/sweep"
	"github.com/vietddude/marketmonitor/internal/infra/chain"
)

// DefaultSweepInterval is used when Config.SweepInterval is zero.
const DefaultSweepInterval = 30 * time.Second

// Config describes the stream a listener follows.
type Config struct {
	Stream        domain.StreamKey
	Contract      common.Address
	Topics        []common.Hash
	SweepInterval time.Duration
	// Reconnect paces resubscription. Nil uses 1s doubling up to 1m, forever.
	Reconnect *recovery.ExponentialBackoff
}

// LogProcessor stores a single decoded log.
type LogProcessor interface {
	ProcessLog(ctx context.Context, lg types.Log, source indexer.Source) (indexer.Outcome, error)
}

// Sweeper reconciles history up to the chain head.
type Sweeper interface {
	Run(ctx context.Context) (sweep.Result, error)
}

// Listener runs one stream: initial sweep, subscription, bridging sweeps
// after every (re)subscribe and a periodic sweep that keeps the checkpoint
// moving.
type Listener struct {
	cfg         Config
	subscriber  chain.Subscriber
	processor   LogProcessor
	sweeper     Sweeper
	checkpoints *checkpoint.Manager
	reconnect   *recovery.ExponentialBackoff
	log         *slog.Logger
}

// New creates a listener.
func New(
	cfg Config,
	subscriber chain.Subscriber,
	processor LogProcessor,
	sweeper Sweeper,
	checkpoints *checkpoint.Manager,
) *Listener {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	reconnect := cfg.Reconnect
	if reconnect == nil {
		reconnect = recovery.Unbounded(time.Second, time.Minute)
	}
	return &Listener{
		cfg:         cfg,
		subscriber:  subscriber,
		processor:   processor,
		sweeper:     sweeper,
		checkpoints: checkpoints,
		reconnect:   reconnect,
		log: slog.Default().With(
			"component", "listener",
			"chain", cfg.Stream.ChainID.Name(),
			"contract", cfg.Stream.Contract,
		),
	}
}

// Start opens the contract subscription. An unreachable provider yields an
// error wrapping domain.ErrConnection.
func (l *Listener) Start(ctx context.Context) (chain.Subscription, error) {
	sub, err := l.subscriber.SubscribeLogs(ctx, chain.LogQuery{
		Contract: l.cfg.Contract,
		Topics:   l.cfg.Topics,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConnection) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrConnection, err)
	}
	return sub, nil
}

// Run blocks until ctx is cancelled. It returns an error only when the
// initial sweep fails, in which case live listening never starts.
func (l *Listener) Run(ctx context.Context) error {
	defer l.setState(checkpoint.StateStopped, "shutdown")

	l.setState(checkpoint.StateSweeping, "startup")
	if _, err := l.sweeper.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial sweep: %w", err)
	}

	sub, err := l.Start(ctx)
	if err != nil {
		l.log.Warn("Subscription failed", "error", err)
		l.setState(checkpoint.StateReconnecting, err.Error())
		if sub, err = l.resubscribe(ctx); err != nil {
			return nil
		}
	}
	l.bridge(ctx)
	l.setState(checkpoint.StateLive, "subscribed")
	l.log.Info("Listening for marketplace events")

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			l.log.Info("Listener stopped")
			return nil

		case lg, ok := <-sub.Logs():
			if !ok {
				sub, err = l.recover(ctx, sub, errors.New("log channel closed"))
				if err != nil {
					return nil
				}
				continue
			}
			l.handle(ctx, lg)

		case subErr := <-sub.Err():
			if subErr == nil {
				subErr = errors.New("subscription closed")
			}
			sub, err = l.recover(ctx, sub, subErr)
			if err != nil {
				return nil
			}

		case <-ticker.C:
			if _, err := l.sweeper.Run(ctx); err != nil && ctx.Err() == nil {
				l.log.Error("Periodic sweep failed", "error", err)
			}
		}
	}
}

func (l *Listener) handle(ctx context.Context, lg types.Log) {
	if _, err := l.processor.ProcessLog(ctx, lg, indexer.SourceLive); err != nil {
		// The checkpoint is only moved by sweeps, so the next sweep
		// picks this log up again.
		l.log.Error("Failed to store live event",
			"block", lg.BlockNumber,
			"tx", lg.TxHash.Hex(),
			"logIndex", lg.Index,
			"error", err,
		)
	}
}

// recover replaces a broken subscription and bridges the gap it left.
func (l *Listener) recover(ctx context.Context, old chain.Subscription, cause error) (chain.Subscription, error) {
	old.Unsubscribe()
	l.log.Warn("Subscription lost", "error", cause)
	l.setState(checkpoint.StateReconnecting, cause.Error())

	sub, err := l.resubscribe(ctx)
	if err != nil {
		return nil, err
	}
	l.bridge(ctx)
	l.setState(checkpoint.StateLive, "resubscribed")
	return sub, nil
}

// resubscribe retries Start with backoff until it succeeds or ctx ends.
func (l *Listener) resubscribe(ctx context.Context) (chain.Subscription, error) {
	chainLabel := l.cfg.Stream.ChainID.String()
	var sub chain.Subscription

	attempt := 0
	err := recovery.Do(ctx, l.reconnect, func(ctx context.Context) error {
		attempt++
		s, err := l.Start(ctx)
		if err != nil {
			metrics.SubscriptionReconnects.WithLabelValues(chainLabel, l.cfg.Stream.Contract, "failed").Inc()
			l.log.Warn("Resubscribe failed",
				"attempt", attempt,
				"retryIn", l.reconnect.GetDelay(attempt-1),
				"error", err,
			)
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SubscriptionReconnects.WithLabelValues(chainLabel, l.cfg.Stream.Contract, "success").Inc()
	l.log.Info("Resubscribed", "attempts", attempt)
	return sub, nil
}

// bridge sweeps blocks mined while no subscription was active.
func (l *Listener) bridge(ctx context.Context) {
	res, err := l.sweeper.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Error("Bridging sweep failed", "error", err)
		}
		return
	}
	if res.Chunks > 0 {
		l.log.Info("Bridging sweep complete", "from", res.From, "to", res.To, "inserted", res.Stats.Inserted)
	}
}

func (l *Listener) setState(state checkpoint.State, reason string) {
	if err := l.checkpoints.SetState(l.cfg.Stream, state, reason); err != nil {
		l.log.Debug("State change ignored", "to", state, "error", err)
	}
}
