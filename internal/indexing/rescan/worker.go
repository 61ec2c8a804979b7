// Package rescan re-processes operator-requested block ranges queued in Redis.
// Rescans write through the same idempotent path as the sweep and never move
// the checkpoint.
package rescan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/indexer"
	"github.com/vietddude/marketmonitor/internal/indexing/recovery"
	redisclient "github.com/vietddude/marketmonitor/internal/infra/redis"
)

// WorkerConfig holds configuration for the rescan worker.
type WorkerConfig struct {
	EmptySleep  time.Duration // Sleep when queue empty (default: 10s)
	ScanTimeout time.Duration // Max time per range (default: 5m)
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		EmptySleep:  10 * time.Second,
		ScanTimeout: 5 * time.Minute,
	}
}

// Queue is the pending range queue of one stream.
type Queue interface {
	PopRange(ctx context.Context, stream string) (start, end uint64, found bool, err error)
	PushRange(ctx context.Context, stream string, start, end uint64) error
	GetAllRanges(ctx context.Context, stream string) ([]string, error)
	ReplaceRanges(ctx context.Context, stream string, ranges [][2]uint64) error
}

var _ Queue = (*redisclient.Client)(nil)

// RangeProcessor stores every log in a range without checkpoint effects.
type RangeProcessor interface {
	ProcessRange(ctx context.Context, r domain.BlockRange) (indexer.Stats, error)
}

// Worker processes rescan ranges for one stream.
type Worker struct {
	cfg       WorkerConfig
	stream    domain.StreamKey
	queue     Queue
	processor RangeProcessor
	log       *slog.Logger
}

// NewWorker creates a new rescan worker.
func NewWorker(
	cfg WorkerConfig,
	stream domain.StreamKey,
	queue Queue,
	processor RangeProcessor,
) *Worker {
	def := DefaultConfig()
	if cfg.EmptySleep <= 0 {
		cfg.EmptySleep = def.EmptySleep
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = def.ScanTimeout
	}
	return &Worker{
		cfg:       cfg,
		stream:    stream,
		queue:     queue,
		processor: processor,
		log: slog.Default().With(
			"component", "rescan",
			"chain", stream.ChainID.Name(),
			"contract", stream.Contract,
		),
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting rescan worker")

	for {
		processed, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			w.log.Info("Rescan worker stopped")
			return nil
		}
		if err != nil {
			w.log.Error("Rescan failed", "error", err)
		}
		if processed && err == nil {
			continue
		}
		if err := recovery.Sleep(ctx, w.cfg.EmptySleep); err != nil {
			w.log.Info("Rescan worker stopped")
			return nil
		}
	}
}

// RunOnce merges the queue, then pops and processes one range. processed is
// false when the queue was empty. A failed range is pushed back.
func (w *Worker) RunOnce(ctx context.Context) (processed bool, err error) {
	key := w.stream.String()

	if err := w.mergeQueueRanges(ctx); err != nil {
		w.log.Warn("Failed to merge ranges", "error", err)
	}

	start, end, found, err := w.queue.PopRange(ctx, key)
	if err != nil {
		return false, fmt.Errorf("pop range: %w", err)
	}
	if !found {
		return false, nil
	}

	r := domain.BlockRange{Start: start, End: end}
	w.log.Info("Processing range", "range", r.String())

	scanCtx, cancel := context.WithTimeout(ctx, w.cfg.ScanTimeout)
	defer cancel()

	stats, err := w.processor.ProcessRange(scanCtx, r)
	if err != nil {
		if reqErr := w.queue.PushRange(context.WithoutCancel(ctx), key, start, end); reqErr != nil {
			w.log.Error("Failed to re-queue range", "range", r.String(), "error", reqErr)
		}
		return true, fmt.Errorf("rescan %s: %w", r, err)
	}

	w.log.Info("Range completed",
		"range", r.String(),
		"inserted", stats.Inserted,
		"duplicates", stats.Duplicates,
		"decodeFailures", stats.DecodeFailures,
	)
	return true, nil
}

// mergeQueueRanges merges overlapping/adjacent ranges in the queue.
func (w *Worker) mergeQueueRanges(ctx context.Context) error {
	key := w.stream.String()

	rangeStrs, err := w.queue.GetAllRanges(ctx, key)
	if err != nil {
		return err
	}
	if len(rangeStrs) <= 1 {
		return nil
	}

	ranges := make([]domain.BlockRange, 0, len(rangeStrs))
	for _, s := range rangeStrs {
		r, err := domain.ParseBlockRange(s)
		if err != nil {
			return err
		}
		ranges = append(ranges, r)
	}

	merged := domain.MergeRanges(ranges)
	if len(merged) == len(ranges) {
		return nil
	}

	w.log.Info("Merging ranges", "before", len(ranges), "after", len(merged))

	pairs := make([][2]uint64, len(merged))
	for i, r := range merged {
		pairs[i] = [2]uint64{r.Start, r.End}
	}
	return w.queue.ReplaceRanges(ctx, key, pairs)
}
