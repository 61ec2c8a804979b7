package listener

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/checkpoint"
	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/decoder"
	"github.com/vietddude/marketmonitor/internal/indexing/decoder/decodertest"
	"github.com/vietddude/marketmonitor/internal/indexing/indexer"
	"github.com/vietddude/marketmonitor/internal/indexing/recovery"
	"github.com/vietddude/marketmonitor/internal/indexing/sweep"
	"github.com/vietddude/marketmonitor/internal/infra/chain"
	"github.com/vietddude/marketmonitor/internal/infra/storage/memory"
)

var (
	market = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	seller = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	nft    = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	stream = domain.NewStreamKey(domain.ChainIDSepolia, market.Hex())
)

type fakeSub struct {
	logs   chan types.Log
	errs   chan error
	closed atomic.Int32
}

func newFakeSub() *fakeSub {
	return &fakeSub{logs: make(chan types.Log, 16), errs: make(chan error, 1)}
}

func (s *fakeSub) Logs() <-chan types.Log { return s.logs }
func (s *fakeSub) Err() <-chan error      { return s.errs }
func (s *fakeSub) Unsubscribe()           { s.closed.Add(1) }

// fakeSubscriber hands out queued subscriptions; a nil entry fails the call.
type fakeSubscriber struct {
	mu    sync.Mutex
	queue []*fakeSub
	calls int
}

func (f *fakeSubscriber) SubscribeLogs(ctx context.Context, q chain.LogQuery) (chain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.queue) == 0 {
		return nil, errors.New("dial tcp: connection refused")
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	if next == nil {
		return nil, errors.New("dial tcp: connection refused")
	}
	return next, nil
}

func (f *fakeSubscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSweeper struct {
	runs atomic.Int32
	err  error
}

func (f *fakeSweeper) Run(ctx context.Context) (sweep.Result, error) {
	f.runs.Add(1)
	return sweep.Result{}, f.err
}

type harness struct {
	subscriber *fakeSubscriber
	sweeper    *fakeSweeper
	events     *memory.EventRepo
	manager    *checkpoint.Manager
	listener   *Listener
}

func newHarness(t *testing.T, subs ...*fakeSub) *harness {
	t.Helper()
	store := memory.NewMemoryStorage()
	events := memory.NewEventRepo(store)
	manager := checkpoint.NewManager(memory.NewCheckpointRepo(store))

	dec, err := decoder.New(domain.ChainIDSepolia, domain.AllEventKinds)
	if err != nil {
		t.Fatalf("decoder.New: %v", err)
	}

	h := &harness{
		subscriber: &fakeSubscriber{queue: subs},
		sweeper:    &fakeSweeper{},
		events:     events,
		manager:    manager,
	}
	h.listener = New(
		Config{
			Stream:        stream,
			Contract:      market,
			Topics:        dec.Topics(),
			SweepInterval: time.Hour,
			Reconnect:     &recovery.ExponentialBackoff{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		},
		h.subscriber,
		indexer.NewProcessor(stream, dec, events, 0),
		h.sweeper,
		manager,
	)
	return h
}

func (h *harness) run(t *testing.T) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.listener.Run(ctx) }()

	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("listener did not stop")
			return nil
		}
	}
}

func (h *harness) count(kind domain.EventKind) int {
	events, _ := h.events.ListByKind(context.Background(), kind)
	return len(events)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func canceledLog(block uint64) types.Log {
	return decodertest.ItemCanceledLog(
		decodertest.Origin{
			Contract:    market,
			BlockNumber: block,
			TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		},
		seller, nft, big.NewInt(int64(block)),
	)
}

func TestListener_DecodeFailureIsolation(t *testing.T) {
	sub := newFakeSub()
	h := newHarness(t, sub)
	stop := h.run(t)

	for b := uint64(1); b <= 10; b++ {
		if b == 4 {
			sub.logs <- decodertest.MalformedLog(decodertest.Origin{Contract: market, BlockNumber: b})
			continue
		}
		sub.logs <- canceledLog(b)
	}
	waitFor(t, "9 events", func() bool { return h.count(domain.EventKindItemCanceled) == 9 })

	// still subscribed
	sub.logs <- canceledLog(11)
	waitFor(t, "10 events", func() bool { return h.count(domain.EventKindItemCanceled) == 10 })

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sub.closed.Load() != 1 {
		t.Errorf("expected subscription closed once, got %d", sub.closed.Load())
	}
	if got := h.manager.State(stream); got != checkpoint.StateStopped {
		t.Errorf("state = %s, want stopped", got)
	}
}

func TestListener_EndToEndItemListed(t *testing.T) {
	sub := newFakeSub()
	h := newHarness(t, sub)
	stop := h.run(t)
	defer stop()

	price, _ := new(big.Int).SetString("1000000000000000000", 10)
	sub.logs <- decodertest.ItemListedLog(
		decodertest.Origin{Contract: market, BlockNumber: 120, TxHash: common.HexToHash("0xabc"), LogIndex: 3},
		seller, nft, big.NewInt(42), price, weth, "WETH",
	)
	waitFor(t, "listed event", func() bool { return h.count(domain.EventKindItemListed) == 1 })

	events, _ := h.events.ListByKind(context.Background(), domain.EventKindItemListed)
	got := events[0]
	if got.BlockNumber != 120 || got.LogIndex != 3 {
		t.Errorf("unexpected origin %d/%d", got.BlockNumber, got.LogIndex)
	}
	p := got.Payload.(domain.ItemListed)
	if p.Listing.Price.String() != "1000000000000000000" {
		t.Errorf("price = %s", p.Listing.Price)
	}
	if p.Seller != seller.Hex() || p.Listing.ERC20TokenName != "WETH" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestListener_ResubscribesAfterError(t *testing.T) {
	first, second := newFakeSub(), newFakeSub()
	// one failed dial between the two subscriptions
	h := newHarness(t, first, nil, second)
	stop := h.run(t)
	defer stop()

	waitFor(t, "live", func() bool { return h.manager.State(stream) == checkpoint.StateLive })
	first.errs <- errors.New("websocket: close 1006 (abnormal closure)")

	second.logs <- canceledLog(5)
	waitFor(t, "event on new subscription", func() bool { return h.count(domain.EventKindItemCanceled) == 1 })

	if first.closed.Load() != 1 {
		t.Error("broken subscription should be released")
	}
	if calls := h.subscriber.Calls(); calls != 3 {
		t.Errorf("expected 3 subscribe calls, got %d", calls)
	}
	// initial sweep, bridge after first subscribe, bridge after resubscribe
	if runs := h.sweeper.runs.Load(); runs < 3 {
		t.Errorf("expected at least 3 sweeps, got %d", runs)
	}
	if m := h.manager.GetMetrics(stream); m.Reconnects != 1 {
		t.Errorf("reconnects = %d, want 1", m.Reconnects)
	}
}

func TestListener_InitialSubscribeRetries(t *testing.T) {
	sub := newFakeSub()
	h := newHarness(t, nil, nil, sub)
	stop := h.run(t)
	defer stop()

	waitFor(t, "live", func() bool { return h.manager.State(stream) == checkpoint.StateLive })
	if calls := h.subscriber.Calls(); calls != 3 {
		t.Errorf("expected 3 subscribe calls, got %d", calls)
	}
}

func TestListener_SweepFailurePreventsLive(t *testing.T) {
	h := newHarness(t, newFakeSub())
	h.sweeper.err = errors.New("gave up after 5 attempts")

	err := h.listener.Run(context.Background())
	if err == nil {
		t.Fatal("expected initial sweep failure")
	}
	if calls := h.subscriber.Calls(); calls != 0 {
		t.Errorf("listener must not subscribe after failed sweep, got %d calls", calls)
	}
}

func TestListener_RemovedLogSkipped(t *testing.T) {
	sub := newFakeSub()
	h := newHarness(t, sub)
	stop := h.run(t)
	defer stop()

	removed := canceledLog(9)
	removed.Removed = true
	sub.logs <- removed
	sub.logs <- canceledLog(10)

	waitFor(t, "event", func() bool { return h.count(domain.EventKindItemCanceled) >= 1 })
	if n := h.count(domain.EventKindItemCanceled); n != 1 {
		t.Errorf("expected only the live log stored, got %d", n)
	}
}

func TestListener_StartWrapsConnectionError(t *testing.T) {
	h := newHarness(t)
	if _, err := h.listener.Start(context.Background()); !errors.Is(err, domain.ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
}
