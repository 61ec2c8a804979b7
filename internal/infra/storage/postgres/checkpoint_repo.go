package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// CheckpointRepo implements storage.CheckpointRepository using PostgreSQL.
type CheckpointRepo struct {
	db *DB
}

// NewCheckpointRepo creates a new PostgreSQL checkpoint repository.
func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

type checkpointRow struct {
	ChainID     int64     `db:"chain_id"`
	Contract    string    `db:"contract_address"`
	BlockNumber int64     `db:"block_number"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Get retrieves the checkpoint of a stream.
func (r *CheckpointRepo) Get(ctx context.Context, stream domain.StreamKey) (uint64, bool, error) {
	var block int64
	err := r.db.GetContext(ctx, &block,
		`SELECT block_number FROM checkpoints WHERE chain_id = $1 AND contract_address = $2`,
		int64(stream.ChainID), stream.Contract,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: get checkpoint %s: %w", domain.ErrPersistence, stream, err)
	}
	return uint64(block), true, nil
}

// Set advances the checkpoint. The conditional upsert leaves a higher stored
// value untouched, in which case a *domain.RegressionError is returned.
func (r *CheckpointRepo) Set(ctx context.Context, stream domain.StreamKey, block uint64) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (chain_id, contract_address, block_number, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain_id, contract_address) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			updated_at = EXCLUDED.updated_at
		WHERE checkpoints.block_number <= EXCLUDED.block_number
	`, int64(stream.ChainID), stream.Contract, int64(block))
	if err != nil {
		return fmt.Errorf("%w: set checkpoint %s: %w", domain.ErrPersistence, stream, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %w", domain.ErrPersistence, err)
	}
	if n > 0 {
		return nil
	}

	current, _, err := r.Get(ctx, stream)
	if err != nil {
		return err
	}
	return &domain.RegressionError{Stream: stream, Current: current, Attempted: block}
}

// List returns all checkpoints.
func (r *CheckpointRepo) List(ctx context.Context) ([]domain.Checkpoint, error) {
	var rows []checkpointRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT chain_id, contract_address, block_number, updated_at
		FROM checkpoints
		ORDER BY chain_id, contract_address
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list checkpoints: %w", domain.ErrPersistence, err)
	}

	out := make([]domain.Checkpoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Checkpoint{
			Stream:      domain.StreamKey{ChainID: domain.ChainID(row.ChainID), Contract: row.Contract},
			BlockNumber: uint64(row.BlockNumber),
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}
