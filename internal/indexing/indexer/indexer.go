// Package indexer turns raw marketplace logs into stored events. It is shared
// by the live listener, the reconciliation sweep and the rescan worker so all
// three write through the same idempotent path.
package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// Source labels where a log came from.
type Source string

const (
	SourceLive   Source = "live"
	SourceSweep  Source = "sweep"
	SourceRescan Source = "rescan"
)

// Decoder decodes one raw log.
type Decoder interface {
	Decode(lg types.Log) (*domain.ChainEvent, error)
}

// LogProcessor is implemented by *Processor.
type LogProcessor interface {
	ProcessLogs(ctx context.Context, logs []types.Log, source Source) (Stats, error)
}

// Outcome is what happened to a single log.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
	OutcomeDecodeFailed
	OutcomeRemoved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "already_exists"
	case OutcomeDecodeFailed:
		return "decode_failed"
	case OutcomeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Stats counts outcomes over a batch of logs.
type Stats struct {
	Inserted       int
	Duplicates     int
	DecodeFailures int
	Removed        int
}

// Record counts one outcome.
func (s *Stats) Record(o Outcome) {
	switch o {
	case OutcomeInserted:
		s.Inserted++
	case OutcomeDuplicate:
		s.Duplicates++
	case OutcomeDecodeFailed:
		s.DecodeFailures++
	case OutcomeRemoved:
		s.Removed++
	}
}

// Add merges other into s.
func (s *Stats) Add(other Stats) {
	s.Inserted += other.Inserted
	s.Duplicates += other.Duplicates
	s.DecodeFailures += other.DecodeFailures
	s.Removed += other.Removed
}

// Total is the number of logs seen.
func (s Stats) Total() int {
	return s.Inserted + s.Duplicates + s.DecodeFailures + s.Removed
}
