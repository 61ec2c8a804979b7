package evm

import (
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// logSubscription owns the websocket client behind one subscription.
type logSubscription struct {
	sub    ethereum.Subscription
	logs   chan types.Log
	client WSClient
	once   sync.Once
}

func newLogSubscription(sub ethereum.Subscription, logs chan types.Log, client WSClient) *logSubscription {
	return &logSubscription{sub: sub, logs: logs, client: client}
}

func (s *logSubscription) Logs() <-chan types.Log {
	return s.logs
}

func (s *logSubscription) Err() <-chan error {
	return s.sub.Err()
}

// Unsubscribe stops delivery and closes the connection. Safe to call twice.
func (s *logSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.sub.Unsubscribe()
		s.client.Close()
	})
}
