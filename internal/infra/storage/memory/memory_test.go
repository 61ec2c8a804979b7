package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

func listed(block uint64, logIndex uint, tx string) *domain.ChainEvent {
	return &domain.ChainEvent{
		ChainID:     domain.ChainIDSepolia,
		BlockNumber: block,
		TxHash:      tx,
		LogIndex:    logIndex,
		Contract:    "0xmarket",
		Payload: domain.ItemListed{
			Seller:     "0xaa",
			NFTAddress: "0xbb",
			TokenID:    big.NewInt(7),
			Listing:    domain.Listing{Price: big.NewInt(100), ERC20TokenAddress: "0xcc", ERC20TokenName: "WETH"},
		},
	}
}

// =============================================================================
// Event Repository Tests
// =============================================================================

func TestEventRepo_AppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo(NewMemoryStorage())

	e := listed(10, 0, "0x01")
	res, err := repo.Append(ctx, e)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if res != domain.AppendInserted {
		t.Errorf("first append = %s, want inserted", res)
	}

	res, err = repo.Append(ctx, listed(10, 0, "0x01"))
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if res != domain.AppendAlreadyExists {
		t.Errorf("second append = %s, want already_exists", res)
	}

	events, _ := repo.ListByKind(ctx, domain.EventKindItemListed)
	if len(events) != 1 {
		t.Fatalf("stored %d events, want 1", len(events))
	}
}

func TestEventRepo_SameTxDifferentLogIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo(NewMemoryStorage())

	repo.Append(ctx, listed(10, 0, "0x01"))
	res, _ := repo.Append(ctx, listed(10, 1, "0x01"))
	if res != domain.AppendInserted {
		t.Errorf("distinct log index should insert, got %s", res)
	}
}

func TestEventRepo_ListOrdersByBlockThenLogIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo(NewMemoryStorage())

	repo.Append(ctx, listed(10, 2, "0x01"))
	repo.Append(ctx, listed(10, 0, "0x02"))
	repo.Append(ctx, listed(11, 0, "0x03"))

	events, err := repo.ListByKind(ctx, domain.EventKindItemListed)
	if err != nil {
		t.Fatalf("ListByKind: %v", err)
	}

	want := [][2]uint64{{10, 0}, {10, 2}, {11, 0}}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, w := range want {
		if events[i].BlockNumber != w[0] || uint64(events[i].LogIndex) != w[1] {
			t.Errorf("event %d = (%d,%d), want (%d,%d)",
				i, events[i].BlockNumber, events[i].LogIndex, w[0], w[1])
		}
	}
}

func TestEventRepo_ListFiltersByKind(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo(NewMemoryStorage())

	repo.Append(ctx, listed(10, 0, "0x01"))
	repo.Append(ctx, &domain.ChainEvent{
		ChainID:     domain.ChainIDSepolia,
		BlockNumber: 11,
		TxHash:      "0x02",
		Payload:     domain.ItemCanceled{Seller: "0xaa", NFTAddress: "0xbb", TokenID: big.NewInt(7)},
	})

	canceled, _ := repo.ListByKind(ctx, domain.EventKindItemCanceled)
	if len(canceled) != 1 || canceled[0].TxHash != "0x02" {
		t.Errorf("unexpected canceled events: %+v", canceled)
	}
}

func TestEventRepo_PurgeAll(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo(NewMemoryStorage())

	repo.Append(ctx, listed(10, 0, "0x01"))
	if err := repo.PurgeAll(ctx); err != nil {
		t.Fatalf("PurgeAll: %v", err)
	}
	events, _ := repo.ListByKind(ctx, domain.EventKindItemListed)
	if len(events) != 0 {
		t.Errorf("expected empty store after purge, got %d", len(events))
	}
}

func TestEventRepo_ConcurrentWritersAcrossChains(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepo(NewMemoryStorage())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for _, chain := range []domain.ChainID{domain.ChainIDEthereum, domain.ChainIDSepolia} {
		wg.Add(1)
		go func(chain domain.ChainID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e := listed(uint64(i), 0, fmt.Sprintf("0x%02x", i))
				e.ChainID = chain
				res, err := repo.Append(ctx, e)
				if err != nil {
					t.Errorf("Append: %v", err)
					return
				}
				if res == domain.AppendInserted {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}
		}(chain)
	}
	wg.Wait()

	if inserted != 100 {
		t.Errorf("inserted %d events, want 100", inserted)
	}

	events, _ := repo.ListByKind(ctx, domain.EventKindItemListed)
	if len(events) != 100 {
		t.Errorf("stored %d events, want 100", len(events))
	}
}

// =============================================================================
// Checkpoint Repository Tests
// =============================================================================

func TestCheckpointRepo_GetMissing(t *testing.T) {
	repo := NewCheckpointRepo(NewMemoryStorage())
	_, found, err := repo.Get(context.Background(), domain.NewStreamKey(1, "0xabc"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("expected no checkpoint")
	}
}

func TestCheckpointRepo_RejectsRegression(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckpointRepo(NewMemoryStorage())
	key := domain.NewStreamKey(domain.ChainIDSepolia, "0xABC")

	if err := repo.Set(ctx, key, 100); err != nil {
		t.Fatalf("Set 100: %v", err)
	}

	err := repo.Set(ctx, key, 90)
	if !errors.Is(err, domain.ErrCheckpointRegression) {
		t.Fatalf("expected regression error, got %v", err)
	}
	var regErr *domain.RegressionError
	if !errors.As(err, &regErr) || regErr.Current != 100 || regErr.Attempted != 90 {
		t.Errorf("unexpected regression details: %+v", regErr)
	}

	block, found, _ := repo.Get(ctx, key)
	if !found || block != 100 {
		t.Errorf("checkpoint = %d (found=%v), want 100", block, found)
	}
}

func TestCheckpointRepo_SameValueAccepted(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckpointRepo(NewMemoryStorage())
	key := domain.NewStreamKey(1, "0xabc")

	repo.Set(ctx, key, 50)
	if err := repo.Set(ctx, key, 50); err != nil {
		t.Errorf("re-setting the same block should succeed: %v", err)
	}
}

func TestCheckpointRepo_ListSorted(t *testing.T) {
	ctx := context.Background()
	repo := NewCheckpointRepo(NewMemoryStorage())

	repo.Set(ctx, domain.NewStreamKey(137, "0xb"), 5)
	repo.Set(ctx, domain.NewStreamKey(1, "0xb"), 3)
	repo.Set(ctx, domain.NewStreamKey(1, "0xa"), 2)

	cps, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("got %d checkpoints, want 3", len(cps))
	}
	if cps[0].Stream.Contract != "0xa" || cps[1].Stream.Contract != "0xb" || cps[2].Stream.ChainID != 137 {
		t.Errorf("unexpected order: %+v", cps)
	}
}
