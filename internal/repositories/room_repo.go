package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const roomColumns = `
	id, code, name, chain_id, step, status, sender_user_id, receiver_user_id,
	amount, fee_payer, escrow_address,
	sender_release_ok, receiver_release_ok, sender_cancel_ok, receiver_cancel_ok,
	last_activity_at, created_at, updated_at`

type RoomRepo struct {
	pool *pgxpool.Pool
}

func NewRoomRepo(pool *pgxpool.Pool) *RoomRepo {
	return &RoomRepo{pool: pool}
}

func (r *RoomRepo) Create(ctx context.Context, room *models.Room) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO rooms (code, name, chain_id, step, status, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, last_activity_at, created_at, updated_at
	`, room.Code, room.Name, room.ChainID, room.Step, room.Status,
	).Scan(&room.ID, &room.LastActivityAt, &room.CreatedAt, &room.UpdatedAt)
}

func scanRoom(row pgx.Row) (*models.Room, error) {
	var m models.Room
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.ChainID, &m.Step, &m.Status,
		&m.SenderUserID, &m.ReceiverUserID, &m.Amount, &m.FeePayer, &m.EscrowAddress,
		&m.SenderReleaseOK, &m.ReceiverReleaseOK, &m.SenderCancelOK, &m.ReceiverCancelOK,
		&m.LastActivityAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("room not found")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *RoomRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return scanRoom(r.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
}

func (r *RoomRepo) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	return scanRoom(r.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE code = $1`, code))
}

func (r *RoomRepo) GetByEscrowAddress(ctx context.Context, chainID int64, address string) (*models.Room, error) {
	return scanRoom(r.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM rooms WHERE chain_id = $1 AND escrow_address = $2`, chainID, address))
}

type RoomFilter struct {
	UserID *uuid.UUID
	Status *string
	Step   *string
	Limit  int
	Offset int
}

func (r *RoomRepo) List(ctx context.Context, f RoomFilter) ([]models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms r`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.UserID != nil {
		query = `
			SELECT ` + roomColumns + ` FROM rooms r
			JOIN room_participants rp ON rp.room_id = r.id`
		where = append(where, fmt.Sprintf("rp.user_id = $%d", argIdx))
		args = append(args, *f.UserID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("r.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}
	if f.Step != nil {
		where = append(where, fmt.Sprintf("r.step = $%d", argIdx))
		args = append(args, *f.Step)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY r.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRooms(rows)
}

// ListActive returns every room whose step is not terminal, for the
// scheduler sweep. Terminal rooms are retained but never scanned.
func (r *RoomRepo) ListActive(ctx context.Context) ([]models.Room, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE step NOT IN ('completed', 'cancelled', 'expired')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRooms(rows)
}

func collectRooms(rows pgx.Rows) ([]models.Room, error) {
	var rooms []models.Room
	for rows.Next() {
		var m models.Room
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.ChainID, &m.Step, &m.Status,
			&m.SenderUserID, &m.ReceiverUserID, &m.Amount, &m.FeePayer, &m.EscrowAddress,
			&m.SenderReleaseOK, &m.ReceiverReleaseOK, &m.SenderCancelOK, &m.ReceiverCancelOK,
			&m.LastActivityAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, m)
	}
	return rooms, rows.Err()
}

// --- participants ---

// AddParticipant inserts the participant only while the room holds fewer
// than two. A zero-row insert means the room is already full.
func (r *RoomRepo) AddParticipant(ctx context.Context, p *models.Participant) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO room_participants (room_id, user_id)
		SELECT $1, $2
		WHERE (SELECT count(*) FROM room_participants WHERE room_id = $1) < 2
		RETURNING id, joined_at
	`, p.RoomID, p.UserID).Scan(&p.ID, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Conflict("room already has two participants")
	}
	return err
}

func (r *RoomRepo) Participants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT rp.id, rp.room_id, rp.user_id, u.wallet_address, rp.role, rp.joined_at
		FROM room_participants rp
		JOIN users u ON u.id = rp.user_id
		WHERE rp.room_id = $1
		ORDER BY rp.joined_at
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.Address, &p.Role, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetParticipantRole claims a role for the actor. The write succeeds only if
// the actor has no role yet and the other participant does not hold the
// requested one; roles are immutable once set.
func (r *RoomRepo) SetParticipantRole(ctx context.Context, roomID, userID uuid.UUID, role string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE room_participants SET role = $3
		WHERE room_id = $1 AND user_id = $2 AND role IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM room_participants
			WHERE room_id = $1 AND role = $3
		  )
	`, roomID, userID, role)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- conditional room writes (optimistic concurrency on the step) ---

// AdvanceStep moves the room from one step to another; the write applies
// only if the room still sits at fromStep.
func (r *RoomRepo) AdvanceStep(ctx context.Context, id uuid.UUID, fromStep, toStep string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET step = $3, last_activity_at = now(), updated_at = now()
		WHERE id = $1 AND step = $2
	`, id, fromStep, toStep)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RoomRepo) SetRoomRoles(ctx context.Context, id uuid.UUID, fromStep string, senderID, receiverID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET sender_user_id = $3, receiver_user_id = $4, step = $5,
		       last_activity_at = now(), updated_at = now()
		WHERE id = $1 AND step = $2
	`, id, fromStep, senderID, receiverID, models.StepAmountAgreement)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetAmount records (or clears, with nil) the proposed amount without
// advancing the step.
func (r *RoomRepo) SetAmount(ctx context.Context, id uuid.UUID, fromStep string, amount *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET amount = $3, last_activity_at = now(), updated_at = now()
		WHERE id = $1 AND step = $2
	`, id, fromStep, amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RoomRepo) SetFeePayer(ctx context.Context, id uuid.UUID, fromStep string, feePayer *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET fee_payer = $3, last_activity_at = now(), updated_at = now()
		WHERE id = $1 AND step = $2
	`, id, fromStep, feePayer)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AssignEscrow links the deposit target and advances to awaiting_deposit in
// one write.
func (r *RoomRepo) AssignEscrow(ctx context.Context, id uuid.UUID, fromStep, toStep, address string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET escrow_address = $4, step = $3,
		       last_activity_at = now(), updated_at = now()
		WHERE id = $1 AND step = $2
	`, id, fromStep, toStep, address)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetConfirmation flips one of the four release/cancel confirmation flags.
// Legal only while the room is still FUNDED.
func (r *RoomRepo) SetConfirmation(ctx context.Context, id uuid.UUID, column string) (bool, error) {
	var col string
	switch column {
	case "sender_release_ok", "receiver_release_ok", "sender_cancel_ok", "receiver_cancel_ok":
		col = column
	default:
		return false, fmt.Errorf("unknown confirmation column %q", column)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET `+col+` = true, last_activity_at = now(), updated_at = now()
		WHERE id = $1 AND step = $2
	`, id, models.StepFunded)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkDisputed sets the DISPUTED status overlay. Terminal statuses stay
// immutable.
func (r *RoomRepo) MarkDisputed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'expired')
	`, id, models.RoomStatusDisputed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Expire transitions the room to EXPIRED, conditional on the step observed
// at scan time so a concurrent legitimate transition wins.
func (r *RoomRepo) Expire(ctx context.Context, id uuid.UUID, fromStep string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE rooms SET step = $3, status = $4, updated_at = now()
		WHERE id = $1 AND step = $2 AND status NOT IN ('completed', 'cancelled', 'expired')
	`, id, fromStep, models.StepExpired, models.RoomStatusExpired)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyChainEvent reconciles an authoritative on-chain event into the room.
// This deliberately bypasses the normal step graph: the chain already did
// whatever it did, the room record only catches up.
func (r *RoomRepo) ApplyChainEvent(ctx context.Context, id uuid.UUID, escrowStatus string) (bool, error) {
	switch escrowStatus {
	case models.EscrowStatusFunded:
		// Deposit: FUNDED is reachable only from awaiting_deposit.
		tag, err := r.pool.Exec(ctx, `
			UPDATE rooms SET step = $2, last_activity_at = now(), updated_at = now()
			WHERE id = $1 AND step = $3
		`, id, models.StepFunded, models.StepAwaitingDeposit)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	case models.EscrowStatusReleased:
		tag, err := r.pool.Exec(ctx, `
			UPDATE rooms SET step = $2, status = $3, updated_at = now()
			WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'expired')
		`, id, models.StepCompleted, models.RoomStatusCompleted)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	case models.EscrowStatusRefunded, models.EscrowStatusCanceled:
		tag, err := r.pool.Exec(ctx, `
			UPDATE rooms SET step = $2, status = $3, updated_at = now()
			WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'expired')
		`, id, models.StepCancelled, models.RoomStatusCancelled)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	}
	return false, fmt.Errorf("unknown escrow status %q", escrowStatus)
}
