// Package control wires configuration into running ingestion pipelines and
// owns their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/marketmonitor/internal/core/checkpoint"
	"github.com/vietddude/marketmonitor/internal/core/config"
	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/decoder"
	"github.com/vietddude/marketmonitor/internal/indexing/health"
	"github.com/vietddude/marketmonitor/internal/indexing/indexer"
	"github.com/vietddude/marketmonitor/internal/indexing/listener"
	"github.com/vietddude/marketmonitor/internal/indexing/recovery"
	"github.com/vietddude/marketmonitor/internal/indexing/rescan"
	"github.com/vietddude/marketmonitor/internal/indexing/sweep"
	"github.com/vietddude/marketmonitor/internal/infra/chain"
	"github.com/vietddude/marketmonitor/internal/infra/chain/evm"
	redisclient "github.com/vietddude/marketmonitor/internal/infra/redis"
	"github.com/vietddude/marketmonitor/internal/infra/rpc"
	"github.com/vietddude/marketmonitor/internal/infra/storage"
	"github.com/vietddude/marketmonitor/internal/infra/storage/memory"
	"github.com/vietddude/marketmonitor/internal/infra/storage/postgres"
	"github.com/vietddude/marketmonitor/internal/query"
)

// ErrLeaseHeld is returned when another process already runs a stream.
var ErrLeaseHeld = errors.New("stream lease held by another instance")

// Config holds the application configuration.
type Config struct {
	Server              config.ServerConfig
	Chains              []config.ChainConfig
	Redis               redisclient.Config
	Database            postgres.Config
	RescanRangesEnabled bool // CLI flag
}

// FromAppConfig converts loaded configuration.
func FromAppConfig(cfg *config.AppConfig, rescanRanges bool) Config {
	return Config{
		Server:              cfg.Server,
		Chains:              cfg.Chains,
		Redis:               cfg.Redis,
		Database:            cfg.Database,
		RescanRangesEnabled: rescanRanges,
	}
}

// Leaser grants exclusive ownership of a stream.
type Leaser interface {
	AcquireLease(ctx context.Context, stream, owner string, ttl time.Duration) (bool, error)
	RefreshLease(ctx context.Context, stream, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, stream, owner string) error
}

// ChainConnector builds the chain adapter for one configured chain. The
// returned lister may be nil.
type ChainConnector func(ctx context.Context, cfg config.ChainConfig) (chain.Adapter, health.ProviderLister, error)

// Option customizes a Monitor.
type Option func(*options)

type options struct {
	events      storage.EventRepository
	checkpoints storage.CheckpointRepository
	connect     ChainConnector
	leaser      Leaser
	queue       rescan.Queue
	retryDelay  time.Duration
}

// WithStorage replaces the configured event store.
func WithStorage(events storage.EventRepository, checkpoints storage.CheckpointRepository) Option {
	return func(o *options) {
		o.events = events
		o.checkpoints = checkpoints
	}
}

// WithChainConnector replaces the default RPC/websocket adapter construction.
func WithChainConnector(c ChainConnector) Option {
	return func(o *options) { o.connect = c }
}

// WithLeaser replaces the Redis lease.
func WithLeaser(l Leaser) Option {
	return func(o *options) { o.leaser = l }
}

// WithRescanQueue replaces the Redis rescan queue.
func WithRescanQueue(q rescan.Queue) Option {
	return func(o *options) { o.queue = q }
}

// WithRetryDelay sets the initial backoff for sweeps and reconnects.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) { o.retryDelay = d }
}

type pipeline struct {
	stream   domain.StreamKey
	listener *listener.Listener
	sweeper  *sweep.Sweeper
	rescan   *rescan.Worker
}

// Monitor is the main application struct that manages the pipeline lifecycle.
type Monitor struct {
	cfg          Config
	owner        string
	pipelines    []*pipeline
	adapters     []chain.Adapter
	events       storage.EventRepository
	checkpoints  *checkpoint.Manager
	query        *query.Service
	healthMon    *health.Monitor
	healthServer *health.Server
	grpcServer   *health.GRPCServer
	leaser       Leaser
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewMonitor creates a Monitor with all dependencies initialized.
func NewMonitor(ctx context.Context, cfg Config, opts ...Option) (*Monitor, error) {
	o := options{connect: DialChain, retryDelay: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Monitor{
		cfg:   cfg,
		owner: uuid.NewString(),
		log:   slog.Default().With("component", "monitor"),
	}

	// 1. Storage
	if err := m.initStorage(ctx, &o); err != nil {
		m.closeInfra()
		return nil, err
	}

	// 2. Redis: ingestion lease and rescan queue
	if o.leaser == nil && cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			m.closeInfra()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		m.redisClient = client
		o.leaser = client
		if o.queue == nil {
			o.queue = client
		}
	}
	m.leaser = o.leaser

	// 3. Health
	m.checkpoints = checkpoint.NewManager(o.checkpoints)
	m.query = query.NewService(m.events)
	m.healthMon = health.NewMonitor(m.checkpoints, 5*time.Second)

	var streams []domain.StreamKey

	// 4. Chains and streams
	for _, chainCfg := range cfg.Chains {
		adapter, providers, err := o.connect(ctx, chainCfg)
		if err != nil {
			m.closeInfra()
			return nil, fmt.Errorf("failed to connect chain %s: %w", chainCfg.DisplayName(), err)
		}
		m.adapters = append(m.adapters, adapter)

		for _, contract := range chainCfg.Contracts {
			p, err := m.buildPipeline(chainCfg, contract, adapter, &o)
			if err != nil {
				m.closeInfra()
				return nil, err
			}
			m.pipelines = append(m.pipelines, p)
			streams = append(streams, p.stream)

			m.healthMon.AddTarget(health.Target{
				Stream:       p.stream,
				Head:         adapter,
				Providers:    providers,
				LagAllowance: health.LagAllowance(chainCfg.SweepInterval, chainCfg.BlockTime),
			})
		}
	}

	m.healthServer = health.NewServer(m.healthMon, cfg.Server.Port, func(mux *http.ServeMux) {
		m.query.RegisterRoutes(mux)
	})

	if cfg.Server.GRPCPort > 0 {
		m.grpcServer = health.NewGRPCServer(cfg.Server.GRPCPort, streams...)
	}
	m.checkpoints.SetStateChangeCallback(m.onTransition)

	return m, nil
}

func (m *Monitor) initStorage(ctx context.Context, o *options) error {
	if o.events != nil && o.checkpoints != nil {
		m.events = o.events
		return nil
	}

	if m.cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, m.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		m.db = db
		if err := postgres.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate db: %w", err)
		}
		m.events = postgres.NewEventRepo(db)
		o.checkpoints = postgres.NewCheckpointRepo(db)
		m.log.Info("Using PostgreSQL storage")
		return nil
	}

	store := memory.NewMemoryStorage()
	m.events = memory.NewEventRepo(store)
	o.checkpoints = memory.NewCheckpointRepo(store)
	m.log.Warn("No database configured, using in-memory storage")
	return nil
}

func (m *Monitor) buildPipeline(
	chainCfg config.ChainConfig,
	contract config.ContractConfig,
	adapter chain.Adapter,
	o *options,
) (*pipeline, error) {
	stream := domain.NewStreamKey(chainCfg.ChainID, contract.Address)

	events := contract.Events
	if len(events) == 0 {
		events = domain.AllEventKinds
	}
	dec, err := decoder.New(chainCfg.ChainID, events)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", stream, err)
	}

	addr := common.HexToAddress(contract.Address)
	processor := indexer.NewProcessor(stream, dec, m.events, 0)

	backoff := recovery.DefaultBackoff(nil)
	backoff.InitialDelay = o.retryDelay

	sweeper := sweep.New(
		sweep.Config{
			Stream:      stream,
			Contract:    addr,
			Topics:      dec.Topics(),
			StartBlock:  contract.StartBlock,
			ChunkSize:   chainCfg.ChunkSize,
			MaxAttempts: chainCfg.MaxAttempts,
			Backoff:     backoff,
		},
		adapter,
		processor,
		m.checkpoints,
	)

	l := listener.New(
		listener.Config{
			Stream:        stream,
			Contract:      addr,
			Topics:        dec.Topics(),
			SweepInterval: chainCfg.SweepInterval,
			Reconnect:     recovery.Unbounded(o.retryDelay, time.Minute),
		},
		adapter,
		processor,
		sweeper,
		m.checkpoints,
	)

	p := &pipeline{stream: stream, listener: l, sweeper: sweeper}
	if m.cfg.RescanRangesEnabled && chainCfg.RescanRanges && o.queue != nil {
		p.rescan = rescan.NewWorker(rescan.DefaultConfig(), stream, o.queue, sweeper)
		m.log.Info("Rescan worker initialized", "stream", stream.String())
	}
	return p, nil
}

// DialChain builds the default EVM adapter: an RPC router over the HTTP
// providers for history and the websocket endpoint for subscriptions. Every
// provider must report the configured chain id, since it is part of each
// stored event's identity.
func DialChain(ctx context.Context, cfg config.ChainConfig) (chain.Adapter, health.ProviderLister, error) {
	name := cfg.DisplayName()
	router := rpc.NewRouter(name, rpc.DefaultRetryConfig())

	for _, p := range cfg.Providers {
		provider, err := rpc.Dial(ctx, p.Name, name, p.URL)
		if err != nil {
			router.Close()
			return nil, nil, err
		}
		router.AddProvider(provider)
	}
	if err := router.VerifyChainID(ctx, cfg.ChainID); err != nil {
		router.Close()
		return nil, nil, err
	}

	return evm.NewEVMAdapter(cfg.ChainID, name, router, cfg.WSURL), router, nil
}

// Streams returns the configured stream keys.
func (m *Monitor) Streams() []domain.StreamKey {
	out := make([]domain.StreamKey, len(m.pipelines))
	for i, p := range m.pipelines {
		out[i] = p.stream
	}
	return out
}

// Query returns the read-side service.
func (m *Monitor) Query() *query.Service {
	return m.query
}

// Run starts the servers and every pipeline, and blocks until ctx is
// cancelled or a pipeline fails to start. A pipeline fails to start when
// its lease is held elsewhere or its initial sweep is exhausted.
func (m *Monitor) Run(ctx context.Context) error {
	go func() {
		if err := m.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("Health server failed", "error", err)
		}
	}()
	if m.grpcServer != nil {
		go func() {
			if err := m.grpcServer.Start(); err != nil {
				m.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}
	if m.db != nil {
		m.db.StartMetricsCollector(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.pipelines {
		g.Go(func() error {
			if err := m.runPipeline(gctx, p); err != nil {
				return fmt.Errorf("stream %s: %w", p.stream, err)
			}
			return nil
		})
	}

	m.log.Info("Monitor started", "streams", len(m.pipelines))
	return g.Wait()
}

func (m *Monitor) runPipeline(ctx context.Context, p *pipeline) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	if m.leaser != nil {
		release, err := m.holdLease(ctx, p.stream, cancel)
		if err != nil {
			return err
		}
		defer release()
	}

	if p.rescan != nil {
		rescanDone := make(chan struct{})
		go func() {
			defer close(rescanDone)
			if err := p.rescan.Run(ctx); err != nil {
				m.log.Error("Rescan worker failed", "stream", p.stream.String(), "error", err)
			}
		}()
		// The worker may still be appending or re-queueing; Stop closes
		// Redis and the database only after every pipeline has returned.
		defer func() {
			cancel(nil)
			<-rescanDone
		}()
	}

	if err := p.listener.Run(ctx); err != nil {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, ErrLeaseHeld) {
		return cause
	}
	return nil
}

// holdLease acquires the stream lease and keeps refreshing it. Losing the
// lease cancels the pipeline with ErrLeaseHeld.
func (m *Monitor) holdLease(ctx context.Context, stream domain.StreamKey, cancel context.CancelCauseFunc) (func(), error) {
	ttl := m.cfg.Redis.LeaseTTL
	if ttl <= 0 {
		ttl = config.DefaultLeaseTTL
	}
	key := stream.String()

	ok, err := m.leaser.AcquireLease(ctx, key, m.owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	m.log.Info("Lease acquired", "stream", key, "owner", m.owner)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				held, err := m.leaser.RefreshLease(ctx, key, m.owner, ttl)
				if err != nil {
					m.log.Warn("Lease refresh failed", "stream", key, "error", err)
					continue
				}
				if !held {
					m.log.Error("Lease lost", "stream", key)
					cancel(ErrLeaseHeld)
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		releaseCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := m.leaser.ReleaseLease(releaseCtx, key, m.owner); err != nil {
			m.log.Warn("Failed to release lease", "stream", key, "error", err)
		}
	}, nil
}

func (m *Monitor) onTransition(stream domain.StreamKey, t checkpoint.Transition) {
	m.log.Info("Pipeline state changed",
		"stream", stream.String(),
		"from", string(t.From),
		"to", string(t.To),
		"reason", t.Reason,
	)
	if m.grpcServer != nil {
		m.grpcServer.OnTransition(stream, t)
	}
}

// Stop shuts down servers and releases connections. Stored events are kept.
func (m *Monitor) Stop(ctx context.Context) error {
	m.log.Info("Stopping monitor...")

	var errs []error
	if err := m.healthServer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("health server: %w", err))
	}
	if m.grpcServer != nil {
		m.grpcServer.Stop()
	}
	for _, a := range m.adapters {
		a.Close()
	}
	m.closeInfra()
	return errors.Join(errs...)
}

func (m *Monitor) closeInfra() {
	if m.redisClient != nil {
		if err := m.redisClient.Close(); err != nil {
			m.log.Warn("Failed to close Redis", "error", err)
		}
		m.redisClient = nil
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			m.log.Warn("Failed to close database", "error", err)
		}
		m.db = nil
	}
}
