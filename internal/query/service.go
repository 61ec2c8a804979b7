// Package query exposes stored marketplace events to readers.
package query

import (
	"context"
	"fmt"

	"github.com/vietddude/marketmonitor/internal/core/domain"
	"github.com/vietddude/marketmonitor/internal/infra/storage"
)

// Service is a read-through accessor over the event store. Results are
// ordered by (block number, log index).
type Service struct {
	events storage.EventRepository
}

// NewService creates a query service.
func NewService(events storage.EventRepository) *Service {
	return &Service{events: events}
}

// ItemListedEvents returns every stored ItemListed event.
func (s *Service) ItemListedEvents(ctx context.Context) ([]*domain.ChainEvent, error) {
	return s.list(ctx, domain.EventKindItemListed)
}

// ItemCanceledEvents returns every stored ItemCanceled event.
func (s *Service) ItemCanceledEvents(ctx context.Context) ([]*domain.ChainEvent, error) {
	return s.list(ctx, domain.EventKindItemCanceled)
}

func (s *Service) list(ctx context.Context, kind domain.EventKind) ([]*domain.ChainEvent, error) {
	events, err := s.events.ListByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s events: %w", kind, err)
	}
	return events, nil
}
