package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/indexing/metrics"
	"github.com/vietddude/marketmonitor/internal/infra/chain"
)

// LogRouter serves historical reads, normally an *rpc.Router.
type LogRouter interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	Close()
}

// WSClient is the subset of *ethclient.Client used for live subscriptions.
type WSClient interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// WSDialer opens a websocket client.
type WSDialer func(ctx context.Context, url string) (WSClient, error)

// DialWS dials a websocket endpoint with ethclient.
func DialWS(ctx context.Context, url string) (WSClient, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

const subscriptionBuffer = 256

type EVMAdapter struct {
	chainID   domain.ChainID
	chainName string
	router    LogRouter
	wsURL     string
	dial      WSDialer
	log       *slog.Logger
}

func NewEVMAdapter(chainID domain.ChainID, chainName string, router LogRouter, wsURL string) *EVMAdapter {
	return &EVMAdapter{
		chainID:   chainID,
		chainName: chainName,
		router:    router,
		wsURL:     wsURL,
		dial:      DialWS,
		log:       slog.Default().With("component", "evm", "chain", chainName),
	}
}

// WithDialer replaces the websocket dialer.
func (a *EVMAdapter) WithDialer(d WSDialer) *EVMAdapter {
	a.dial = d
	return a
}

func (a *EVMAdapter) ChainID() domain.ChainID {
	return a.chainID
}

func (a *EVMAdapter) LatestBlock(ctx context.Context) (uint64, error) {
	head, err := a.router.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	metrics.ChainLatestBlock.WithLabelValues(a.chainName).Set(float64(head))
	return head, nil
}

func (a *EVMAdapter) FilterLogs(ctx context.Context, q chain.LogQuery) ([]types.Log, error) {
	if q.FromBlock > q.ToBlock {
		return nil, fmt.Errorf("invalid range %d-%d", q.FromBlock, q.ToBlock)
	}

	fq := filterQuery(q)
	fq.FromBlock = new(big.Int).SetUint64(q.FromBlock)
	fq.ToBlock = new(big.Int).SetUint64(q.ToBlock)

	logs, err := a.router.FilterLogs(ctx, fq)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs %d-%d failed: %w", q.FromBlock, q.ToBlock, err)
	}
	return logs, nil
}

// SubscribeLogs dials a fresh websocket connection for every subscription so
// a reconnect never reuses a broken transport.
func (a *EVMAdapter) SubscribeLogs(ctx context.Context, q chain.LogQuery) (chain.Subscription, error) {
	client, err := a.dial(ctx, a.wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial websocket: %w", domain.ErrConnection, err)
	}

	ch := make(chan types.Log, subscriptionBuffer)
	sub, err := client.SubscribeFilterLogs(ctx, filterQuery(q), ch)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: eth_subscribe logs: %w", domain.ErrConnection, err)
	}

	a.log.Debug("Log subscription opened", "contract", q.Contract.Hex())
	return newLogSubscription(sub, ch, client), nil
}

func (a *EVMAdapter) Close() {
	a.router.Close()
}

func filterQuery(q chain.LogQuery) ethereum.FilterQuery {
	var topics [][]common.Hash
	if len(q.Topics) > 0 {
		topics = [][]common.Hash{q.Topics}
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{q.Contract},
		Topics:    topics,
	}
}
