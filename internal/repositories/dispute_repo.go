package repositories

import (
	"context"

	"github.com/escrow-rooms/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO disputes (room_id, opener_user_id, explanation, proof_url)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, d.RoomID, d.OpenerUserID, d.Explanation, d.ProofURL).Scan(&d.ID, &d.CreatedAt)
}

func (r *DisputeRepo) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, opener_user_id, explanation, proof_url,
		       proof_checked, proof_alive, proof_title, checked_at, created_at
		FROM disputes WHERE room_id = $1 ORDER BY created_at DESC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Dispute
	for rows.Next() {
		var d models.Dispute
		if err := rows.Scan(&d.ID, &d.RoomID, &d.OpenerUserID, &d.Explanation, &d.ProofURL,
			&d.ProofChecked, &d.ProofAlive, &d.ProofTitle, &d.CheckedAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListUnchecked returns disputes with a proof URL the worker has not
// fetched yet.
func (r *DisputeRepo) ListUnchecked(ctx context.Context, limit int) ([]models.Dispute, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, room_id, opener_user_id, explanation, proof_url,
		       proof_checked, proof_alive, proof_title, checked_at, created_at
		FROM disputes
		WHERE proof_url IS NOT NULL AND proof_checked = false
		ORDER BY created_at LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Dispute
	for rows.Next() {
		var d models.Dispute
		if err := rows.Scan(&d.ID, &d.RoomID, &d.OpenerUserID, &d.Explanation, &d.ProofURL,
			&d.ProofChecked, &d.ProofAlive, &d.ProofTitle, &d.CheckedAt, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DisputeRepo) MarkChecked(ctx context.Context, id uuid.UUID, alive bool, title *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE disputes SET proof_checked = true, proof_alive = $2, proof_title = $3, checked_at = now()
		WHERE id = $1
	`, id, alive, title)
	return err
}
