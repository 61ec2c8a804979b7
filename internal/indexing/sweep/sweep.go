// Package sweep implements the reconciliation sweep: a chunked historical
// scan from the stream checkpoint to the chain head.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vietddude/marketmonitor/internal/core/checkpoint"
	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/indexer"
	"github.com/vietddude/marketmonitor/internal/indexing/metrics"
	"github.com/vietddude/marketmonitor/internal/indexing/recovery"
	"github.com/vietddude/marketmonitor/internal/infra/chain"
)

// DefaultChunkSize is used when Config.ChunkSize is zero.
const DefaultChunkSize = 500

// ErrBeyondHead is returned by ProcessRange for a range that starts past the
// chain head.
var ErrBeyondHead = errors.New("range beyond chain head")

// Config describes one stream's sweep.
type Config struct {
	Stream     domain.StreamKey
	Contract   common.Address
	Topics     []common.Hash
	StartBlock uint64 // used when no checkpoint exists
	ChunkSize  uint64
	// MaxAttempts bounds attempts per chunk. Exhaustion fails the sweep.
	MaxAttempts int
	// Backoff between chunk attempts. Nil uses recovery.DefaultBackoff.
	Backoff *recovery.ExponentialBackoff
}

// Result summarizes one sweep run.
type Result struct {
	RunID  string
	From   uint64
	To     uint64
	Chunks int
	Stats  indexer.Stats
}

// Sweeper scans historical logs and advances the checkpoint chunk by chunk.
type Sweeper struct {
	cfg         Config
	source      chain.LogSource
	processor   indexer.LogProcessor
	checkpoints *checkpoint.Manager
	strategy    *recovery.ExponentialBackoff
	runMu       sync.Mutex
	log         *slog.Logger
}

// New creates a sweeper for one stream.
func New(
	cfg Config,
	source chain.LogSource,
	processor indexer.LogProcessor,
	checkpoints *checkpoint.Manager,
) *Sweeper {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	strategy := cfg.Backoff
	if strategy == nil {
		strategy = recovery.DefaultBackoff(nil)
	}
	s := *strategy
	if cfg.MaxAttempts > 0 {
		s.MaxAttempts = cfg.MaxAttempts
	}

	return &Sweeper{
		cfg:         cfg,
		source:      source,
		processor:   processor,
		checkpoints: checkpoints,
		strategy:    &s,
		log: slog.Default().With(
			"component", "sweep",
			"chain", cfg.Stream.ChainID.Name(),
			"contract", cfg.Stream.Contract,
		),
	}
}

// Run scans [checkpoint+1, head] in increasing chunks, advancing the
// checkpoint after each chunk commits. Cancellation is observed between
// chunks. A chunk that exhausts its attempts fails the run and leaves the
// checkpoint at the last committed chunk.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res := Result{RunID: uuid.NewString()}
	log := s.log.With("run", res.RunID)

	head, err := s.head(ctx)
	if err != nil {
		return res, err
	}

	from, err := s.nextBlock(ctx)
	if err != nil {
		return res, err
	}
	res.From, res.To = from, head

	if from > head {
		log.Debug("Checkpoint at head, nothing to sweep", "head", head)
		return res, nil
	}

	full := domain.BlockRange{Start: from, End: head}
	chunks := full.Split(s.cfg.ChunkSize)
	log.Info("Starting sweep", "from", from, "to", head, "chunks", len(chunks))
	started := time.Now()

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			log.Info("Sweep cancelled", "next", chunk.Start)
			return res, err
		}

		stats, err := s.processChunkWithRetry(ctx, chunk)
		res.Stats.Add(stats)
		if err != nil && ctx.Err() != nil {
			log.Info("Sweep cancelled", "next", chunk.Start)
			return res, ctx.Err()
		}
		if err != nil {
			metrics.SweepChunks.WithLabelValues(s.chainLabel(), s.cfg.Stream.Contract, "failed").Inc()
			log.Error("Sweep chunk failed", "range", chunk.String(), "error", err)
			return res, fmt.Errorf("sweep chunk %s: %w", chunk, err)
		}

		if err := s.checkpoints.Advance(context.WithoutCancel(ctx), s.cfg.Stream, chunk.End); err != nil {
			if !errors.Is(err, domain.ErrCheckpointRegression) {
				return res, err
			}
		}
		res.Chunks++
		metrics.SweepChunks.WithLabelValues(s.chainLabel(), s.cfg.Stream.Contract, "committed").Inc()
	}

	log.Info("Sweep complete",
		"from", from,
		"to", head,
		"chunks", res.Chunks,
		"inserted", res.Stats.Inserted,
		"duplicates", res.Stats.Duplicates,
		"decodeFailures", res.Stats.DecodeFailures,
		"duration", time.Since(started),
	)
	return res, nil
}

// ProcessRange decodes and stores every log in r without touching the
// checkpoint. Blocks past the chain head are not scanned; a range starting
// past the head is an error.
func (s *Sweeper) ProcessRange(ctx context.Context, r domain.BlockRange) (indexer.Stats, error) {
	var total indexer.Stats

	head, err := s.head(ctx)
	if err != nil {
		return total, err
	}
	if r.Start > head {
		return total, fmt.Errorf("%w: range %s starts past chain head %d", ErrBeyondHead, r, head)
	}
	if r.End > head {
		s.log.Warn("Clamping range to chain head", "range", r.String(), "head", head)
		r.End = head
	}

	for _, chunk := range r.Split(s.cfg.ChunkSize) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stats, err := s.processChunkWithRetry(ctx, chunk)
		total.Add(stats)
		if err != nil {
			return total, fmt.Errorf("process range %s: %w", chunk, err)
		}
	}
	return total, nil
}

func (s *Sweeper) head(ctx context.Context) (uint64, error) {
	var head uint64
	err := recovery.Do(ctx, s.strategy, func(ctx context.Context) error {
		h, err := s.source.LatestBlock(ctx)
		head = h
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get chain head: %w", err)
	}
	return head, nil
}

func (s *Sweeper) nextBlock(ctx context.Context) (uint64, error) {
	block, found, err := s.checkpoints.Get(ctx, s.cfg.Stream)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	if !found {
		return s.cfg.StartBlock, nil
	}
	return block + 1, nil
}

func (s *Sweeper) processChunkWithRetry(ctx context.Context, chunk domain.BlockRange) (indexer.Stats, error) {
	// Only the committed attempt counts; earlier attempts may have stored
	// part of the chunk, which the retry then sees as duplicates.
	var total indexer.Stats
	attempt := 0
	err := recovery.Do(ctx, s.strategy, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.SweepChunks.WithLabelValues(s.chainLabel(), s.cfg.Stream.Contract, "retried").Inc()
			s.log.Warn("Retrying sweep chunk", "range", chunk.String(), "attempt", attempt)
		}
		stats, err := s.processChunk(ctx, chunk)
		if err != nil {
			return err
		}
		total = stats
		return nil
	})
	return total, err
}

// processChunk fetches and stores one chunk, halving it while the provider
// rejects the range as too large.
func (s *Sweeper) processChunk(ctx context.Context, chunk domain.BlockRange) (indexer.Stats, error) {
	logs, err := s.source.FilterLogs(ctx, chain.LogQuery{
		Contract:  s.cfg.Contract,
		Topics:    s.cfg.Topics,
		FromBlock: chunk.Start,
		ToBlock:   chunk.End,
	})
	if errors.Is(err, chain.ErrRangeTooLarge) {
		lo, hi, ok := chunk.Halve()
		if !ok {
			return indexer.Stats{}, err
		}
		metrics.SweepChunks.WithLabelValues(s.chainLabel(), s.cfg.Stream.Contract, "split").Inc()
		s.log.Debug("Splitting chunk", "range", chunk.String(), "lo", lo.String(), "hi", hi.String())

		stats, err := s.processChunk(ctx, lo)
		if err != nil {
			return stats, err
		}
		more, err := s.processChunk(ctx, hi)
		stats.Add(more)
		return stats, err
	}
	if err != nil {
		return indexer.Stats{}, fmt.Errorf("filter logs %s: %w", chunk, err)
	}

	return s.processor.ProcessLogs(ctx, logs, indexer.SourceSweep)
}

func (s *Sweeper) chainLabel() string {
	return s.cfg.Stream.ChainID.String()
}
