package repositories

import (
	"context"
	"errors"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// Upsert writes the mirror row for (chain_id, address). A fresh row keeps
// whatever placeholder buyer/seller/token/amount fields the caller supplied;
// an existing row only has its status/tx-hash/block fields overwritten
// (last-processed-wins). Replaying the same event lands on the same state.
func (r *EscrowRepo) Upsert(ctx context.Context, m *models.EscrowMirror) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrow_mirror (chain_id, address, buyer_address, seller_address, token,
		                           amount, fee_bps, status, last_tx_hash, last_block_number, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, now())
		ON CONFLICT (chain_id, address) DO UPDATE SET
			status = EXCLUDED.status,
			last_tx_hash = EXCLUDED.last_tx_hash,
			last_block_number = EXCLUDED.last_block_number,
			updated_at = now()
	`, m.ChainID, m.Address, m.BuyerAddress, m.SellerAddress, m.Token,
		m.Amount, m.FeeBPS, m.Status, m.LastTxHash, m.LastBlockNumber)
	return err
}

// Create inserts the mirror row at escrow assignment time with the
// negotiated terms; the indexer only ever touches status/tx/block afterwards.
func (r *EscrowRepo) Create(ctx context.Context, m *models.EscrowMirror) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrow_mirror (chain_id, address, buyer_address, seller_address, token,
		                           amount, fee_bps, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (chain_id, address) DO NOTHING
	`, m.ChainID, m.Address, m.BuyerAddress, m.SellerAddress, m.Token,
		m.Amount, m.FeeBPS, m.Status)
	return err
}

func (r *EscrowRepo) GetByAddress(ctx context.Context, chainID int64, address string) (*models.EscrowMirror, error) {
	var m models.EscrowMirror
	err := r.pool.QueryRow(ctx, `
		SELECT chain_id, address, buyer_address, seller_address, token,
		       amount, fee_bps, status, last_tx_hash, last_block_number::text, updated_at
		FROM escrow_mirror WHERE chain_id = $1 AND address = $2
	`, chainID, address).Scan(&m.ChainID, &m.Address, &m.BuyerAddress, &m.SellerAddress, &m.Token,
		&m.Amount, &m.FeeBPS, &m.Status, &m.LastTxHash, &m.LastBlockNumber, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("escrow mirror not found")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
