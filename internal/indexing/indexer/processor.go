package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/metrics"
	"github.com/vietddude/marketmonitor/internal/infra/storage"
)

// DefaultWriteTimeout bounds a single append once the caller has been cancelled.
const DefaultWriteTimeout = 10 * time.Second

// Processor decodes logs of one stream and appends them to the event store.
type Processor struct {
	stream       domain.StreamKey
	decoder      Decoder
	events       storage.EventRepository
	writeTimeout time.Duration
	log          *slog.Logger
}

// NewProcessor creates a processor for stream. writeTimeout <= 0 uses
// DefaultWriteTimeout.
func NewProcessor(
	stream domain.StreamKey,
	decoder Decoder,
	events storage.EventRepository,
	writeTimeout time.Duration,
) *Processor {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Processor{
		stream:       stream,
		decoder:      decoder,
		events:       events,
		writeTimeout: writeTimeout,
		log: slog.Default().With(
			"component", "processor",
			"chain", stream.ChainID.Name(),
			"contract", stream.Contract,
		),
	}
}

// ProcessLog decodes and stores one log. Removed and undecodable logs are
// logged, counted and skipped; only persistence failures are returned.
//
// The append runs on a context detached from ctx so a shutdown never
// abandons a write half way.
func (p *Processor) ProcessLog(ctx context.Context, lg types.Log, source Source) (Outcome, error) {
	chainLabel := p.stream.ChainID.String()

	if lg.Removed {
		p.log.Info("Skipping removed log",
			"block", lg.BlockNumber,
			"tx", lg.TxHash.Hex(),
			"logIndex", lg.Index,
		)
		metrics.RemovedLogs.WithLabelValues(chainLabel, p.stream.Contract).Inc()
		return OutcomeRemoved, nil
	}

	event, err := p.decoder.Decode(lg)
	if err != nil {
		var decErr *domain.DecodeError
		if !errors.As(err, &decErr) {
			return OutcomeDecodeFailed, err
		}
		p.log.Warn("Dropping undecodable log",
			"block", decErr.BlockNumber,
			"tx", decErr.TxHash,
			"logIndex", decErr.LogIndex,
			"topic0", decErr.Topic0,
			"reason", decErr.Reason,
			"source", string(source),
		)
		metrics.DecodeFailures.WithLabelValues(chainLabel, p.stream.Contract).Inc()
		return OutcomeDecodeFailed, nil
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	result, err := p.events.Append(writeCtx, event)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", event.Identity(), err)
	}

	metrics.EventsIngested.WithLabelValues(
		chainLabel,
		p.stream.Contract,
		string(event.Kind()),
		result.String(),
		string(source),
	).Inc()

	if result == domain.AppendAlreadyExists {
		p.log.Debug("Event already stored", "id", event.Identity().String(), "source", string(source))
		return OutcomeDuplicate, nil
	}

	p.log.Debug("Event stored",
		"kind", string(event.Kind()),
		"block", event.BlockNumber,
		"logIndex", event.LogIndex,
		"source", string(source),
	)
	return OutcomeInserted, nil
}

// ProcessLogs processes logs in order and stops at the first persistence
// failure. Stats cover the logs handled before the failure.
func (p *Processor) ProcessLogs(ctx context.Context, logs []types.Log, source Source) (Stats, error) {
	var stats Stats
	for _, lg := range logs {
		outcome, err := p.ProcessLog(ctx, lg, source)
		if err != nil {
			return stats, err
		}
		stats.Record(outcome)
	}
	return stats, nil
}
