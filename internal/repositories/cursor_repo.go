package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CursorRepo struct {
	pool *pgxpool.Pool
}

func NewCursorRepo(pool *pgxpool.Pool) *CursorRepo {
	return &CursorRepo{pool: pool}
}

// Get returns the highest fully-processed block for the chain as a decimal
// string; ok is false when the chain has never committed a cursor.
func (r *CursorRepo) Get(ctx context.Context, chainID int64) (string, bool, error) {
	var block string
	err := r.pool.QueryRow(ctx,
		`SELECT last_block::text FROM chain_cursors WHERE chain_id = $1`, chainID,
	).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return block, true, nil
}

// Commit records the cursor. GREATEST keeps it monotonically non-decreasing
// even if a stale cycle somehow commits late.
func (r *CursorRepo) Commit(ctx context.Context, chainID int64, block string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chain_cursors (chain_id, last_block, updated_at)
		VALUES ($1, $2::numeric, now())
		ON CONFLICT (chain_id) DO UPDATE SET
			last_block = GREATEST(chain_cursors.last_block, EXCLUDED.last_block),
			updated_at = now()
	`, chainID, block)
	return err
}
