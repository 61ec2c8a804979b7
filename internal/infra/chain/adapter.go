package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// ErrRangeTooLarge is returned when a provider refuses a log query because the
// block range or result set exceeds its limits. Callers split the range.
var ErrRangeTooLarge = errors.New("log query range too large")

// LogQuery selects logs emitted by one contract with any of the given topic0
// values. FromBlock and ToBlock are inclusive and ignored by subscriptions.
type LogQuery struct {
	Contract  common.Address
	Topics    []common.Hash
	FromBlock uint64
	ToBlock   uint64
}

// LogSource reads chain height and historical logs.
type LogSource interface {
	// LatestBlock returns the latest block number on the chain
	LatestBlock(ctx context.Context) (uint64, error)

	// FilterLogs returns logs in [q.FromBlock, q.ToBlock] in chain order
	FilterLogs(ctx context.Context, q LogQuery) ([]types.Log, error)
}

// Subscriber opens live log subscriptions.
type Subscriber interface {
	// SubscribeLogs opens a subscription. Fails with domain.ErrConnection when
	// the provider cannot be reached.
	SubscribeLogs(ctx context.Context, q LogQuery) (Subscription, error)
}

// Subscription is a live, non-restartable stream of raw logs. Logs are
// delivered in chain order. Err yields once when the stream breaks and is
// closed by Unsubscribe.
type Subscription interface {
	Logs() <-chan types.Log
	Err() <-chan error
	Unsubscribe()
}

// Adapter is the chain-level boundary used by the ingestion pipeline.
type Adapter interface {
	LogSource
	Subscriber

	// ChainID returns the chain identifier
	ChainID() domain.ChainID

	// Close releases provider connections
	Close()
}
