package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/decoder"
	"github.com/vietddude/marketmonitor/internal/indexing/decoder/decodertest"
	"github.com/vietddude/marketmonitor/internal/infra/storage/memory"
)

var (
	market = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	seller = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	nft    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	stream = domain.NewStreamKey(domain.ChainIDHardhat, market.Hex())
)

type failingRepo struct {
	*memory.EventRepo
	err error
}

func (f *failingRepo) Append(ctx context.Context, event *domain.ChainEvent) (domain.AppendResult, error) {
	return 0, f.err
}

func newProcessor(t *testing.T) (*Processor, *memory.EventRepo) {
	t.Helper()
	dec, err := decoder.New(domain.ChainIDHardhat, domain.AllEventKinds)
	if err != nil {
		t.Fatalf("decoder.New: %v", err)
	}
	repo := memory.NewEventRepo(memory.NewMemoryStorage())
	return NewProcessor(stream, dec, repo, 0), repo
}

func canceledLog(block uint64, index uint) types.Log {
	return decodertest.ItemCanceledLog(
		decodertest.Origin{
			Contract:    market,
			BlockNumber: block,
			TxHash:      common.HexToHash(fmt.Sprintf("0x%x", block)),
			LogIndex:    index,
		},
		seller, nft, big.NewInt(int64(block)),
	)
}

func TestProcessor_Outcomes(t *testing.T) {
	p, repo := newProcessor(t)
	ctx := context.Background()

	removed := canceledLog(3, 0)
	removed.Removed = true

	logs := []types.Log{
		canceledLog(1, 0),
		canceledLog(1, 0), // duplicate delivery
		decodertest.MalformedLog(decodertest.Origin{Contract: market, BlockNumber: 2}),
		removed,
		canceledLog(4, 1),
	}

	stats, err := p.ProcessLogs(ctx, logs, SourceSweep)
	if err != nil {
		t.Fatalf("ProcessLogs: %v", err)
	}
	want := Stats{Inserted: 2, Duplicates: 1, DecodeFailures: 1, Removed: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if stats.Total() != len(logs) {
		t.Errorf("total = %d, want %d", stats.Total(), len(logs))
	}

	stored, _ := repo.ListByKind(ctx, domain.EventKindItemCanceled)
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(stored))
	}
}

func TestProcessor_PersistenceFailureStops(t *testing.T) {
	dec, _ := decoder.New(domain.ChainIDHardhat, domain.AllEventKinds)
	repo := &failingRepo{err: fmt.Errorf("%w: connection reset", domain.ErrPersistence)}
	p := NewProcessor(stream, dec, repo, 0)

	stats, err := p.ProcessLogs(context.Background(), []types.Log{canceledLog(1, 0), canceledLog(2, 0)}, SourceLive)
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if stats.Total() != 0 {
		t.Errorf("no log should be counted, got %+v", stats)
	}
}

func TestProcessor_AppendSurvivesCancellation(t *testing.T) {
	p, repo := newProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := p.ProcessLog(ctx, canceledLog(7, 0), SourceLive)
	if err != nil {
		t.Fatalf("ProcessLog: %v", err)
	}
	if outcome != OutcomeInserted {
		t.Errorf("outcome = %s, want inserted", outcome)
	}
	stored, _ := repo.ListByKind(context.Background(), domain.EventKindItemCanceled)
	if len(stored) != 1 {
		t.Errorf("expected append to complete, got %d events", len(stored))
	}
}
