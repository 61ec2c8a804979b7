package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL event repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

const insertItemListed = `
	INSERT INTO item_listed_events (
		chain_id, block_number, block_hash, tx_hash, log_index, contract_address,
		seller, nft_address, token_id, price, erc20_token_address, erc20_token_name, observed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11, $12, $13)
	ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
`

const insertItemCanceled = `
	INSERT INTO item_canceled_events (
		chain_id, block_number, block_hash, tx_hash, log_index, contract_address,
		seller, nft_address, token_id, observed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10)
	ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
`

// Append inserts the event, reporting AppendAlreadyExists when its identity
// is already stored.
func (r *EventRepo) Append(ctx context.Context, event *domain.ChainEvent) (domain.AppendResult, error) {
	observedAt := event.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now()
	}

	var (
		query string
		args  []any
	)
	switch p := event.Payload.(type) {
	case domain.ItemListed:
		query = insertItemListed
		args = []any{
			int64(event.ChainID), int64(event.BlockNumber), event.BlockHash, event.TxHash,
			int64(event.LogIndex), event.Contract,
			p.Seller, p.NFTAddress, bigString(p.TokenID), bigString(p.Listing.Price),
			p.Listing.ERC20TokenAddress, p.Listing.ERC20TokenName, observedAt,
		}
	case domain.ItemCanceled:
		query = insertItemCanceled
		args = []any{
			int64(event.ChainID), int64(event.BlockNumber), event.BlockHash, event.TxHash,
			int64(event.LogIndex), event.Contract,
			p.Seller, p.NFTAddress, bigString(p.TokenID), observedAt,
		}
	default:
		return 0, fmt.Errorf("unsupported event payload %T", event.Payload)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: insert %s %s: %w", domain.ErrPersistence, event.Kind(), event.Identity(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %w", domain.ErrPersistence, err)
	}
	if n == 0 {
		return domain.AppendAlreadyExists, nil
	}
	return domain.AppendInserted, nil
}

type eventRow struct {
	ChainID     int64     `db:"chain_id"`
	BlockNumber int64     `db:"block_number"`
	BlockHash   string    `db:"block_hash"`
	TxHash      string    `db:"tx_hash"`
	LogIndex    int64     `db:"log_index"`
	Contract    string    `db:"contract_address"`
	Seller      string    `db:"seller"`
	NFTAddress  string    `db:"nft_address"`
	TokenID     string    `db:"token_id"`
	ObservedAt  time.Time `db:"observed_at"`

	// ItemListed only.
	Price             string `db:"price"`
	ERC20TokenAddress string `db:"erc20_token_address"`
	ERC20TokenName    string `db:"erc20_token_name"`
}

const selectItemListed = `
	SELECT chain_id, block_number, block_hash, tx_hash, log_index, contract_address,
		seller, nft_address, token_id::text AS token_id, price::text AS price,
		erc20_token_address, erc20_token_name, observed_at
	FROM item_listed_events
	ORDER BY block_number ASC, log_index ASC, chain_id ASC, tx_hash ASC
`

const selectItemCanceled = `
	SELECT chain_id, block_number, block_hash, tx_hash, log_index, contract_address,
		seller, nft_address, token_id::text AS token_id, observed_at
	FROM item_canceled_events
	ORDER BY block_number ASC, log_index ASC, chain_id ASC, tx_hash ASC
`

// ListByKind returns all events of the kind ordered by (block, log index).
func (r *EventRepo) ListByKind(ctx context.Context, kind domain.EventKind) ([]*domain.ChainEvent, error) {
	var query string
	switch kind {
	case domain.EventKindItemListed:
		query = selectItemListed
	case domain.EventKindItemCanceled:
		query = selectItemCanceled
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", domain.ErrPersistence, kind, err)
	}

	events := make([]*domain.ChainEvent, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain(kind)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// PurgeAll deletes every stored event.
func (r *EventRepo) PurgeAll(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin purge: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	for _, table := range []string{"item_listed_events", "item_canceled_events"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("%w: purge %s: %w", domain.ErrPersistence, table, err)
		}
	}
	return tx.Commit()
}

func (row eventRow) toDomain(kind domain.EventKind) (*domain.ChainEvent, error) {
	tokenID, err := parseBig(row.TokenID)
	if err != nil {
		return nil, fmt.Errorf("token_id of %s:%d: %w", row.TxHash, row.LogIndex, err)
	}

	e := &domain.ChainEvent{
		ChainID:     domain.ChainID(row.ChainID),
		BlockNumber: uint64(row.BlockNumber),
		BlockHash:   row.BlockHash,
		TxHash:      row.TxHash,
		LogIndex:    uint(row.LogIndex),
		Contract:    row.Contract,
		ObservedAt:  row.ObservedAt,
	}

	switch kind {
	case domain.EventKindItemListed:
		price, err := parseBig(row.Price)
		if err != nil {
			return nil, fmt.Errorf("price of %s:%d: %w", row.TxHash, row.LogIndex, err)
		}
		e.Payload = domain.ItemListed{
			Seller:     row.Seller,
			NFTAddress: row.NFTAddress,
			TokenID:    tokenID,
			Listing: domain.Listing{
				Price:             price,
				ERC20TokenAddress: row.ERC20TokenAddress,
				ERC20TokenName:    row.ERC20TokenName,
			},
		}
	case domain.EventKindItemCanceled:
		e.Payload = domain.ItemCanceled{
			Seller:     row.Seller,
			NFTAddress: row.NFTAddress,
			TokenID:    tokenID,
		}
	}
	return e, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}
