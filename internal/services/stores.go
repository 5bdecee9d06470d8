package services

import (
	"context"

	"github.com/escrow-rooms/backend/internal/models"
	"github.com/escrow-rooms/backend/internal/repositories"
	"github.com/google/uuid"
)

// RoomStore is the repository surface the state machine and the scheduler
// write through. Every mutating method that carries a fromStep (or an
// implicit step precondition) is a conditional write: it reports false when
// the room no longer matches the state observed at read time.
type RoomStore interface {
	Create(ctx context.Context, room *models.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetByCode(ctx context.Context, code string) (*models.Room, error)
	List(ctx context.Context, f repositories.RoomFilter) ([]models.Room, error)
	ListActive(ctx context.Context) ([]models.Room, error)

	AddParticipant(ctx context.Context, p *models.Participant) error
	Participants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
	SetParticipantRole(ctx context.Context, roomID, userID uuid.UUID, role string) (bool, error)

	AdvanceStep(ctx context.Context, id uuid.UUID, fromStep, toStep string) (bool, error)
	SetRoomRoles(ctx context.Context, id uuid.UUID, fromStep string, senderID, receiverID uuid.UUID) (bool, error)
	SetAmount(ctx context.Context, id uuid.UUID, fromStep string, amount *string) (bool, error)
	SetFeePayer(ctx context.Context, id uuid.UUID, fromStep string, feePayer *string) (bool, error)
	AssignEscrow(ctx context.Context, id uuid.UUID, fromStep, toStep, address string) (bool, error)
	SetConfirmation(ctx context.Context, id uuid.UUID, column string) (bool, error)
	MarkDisputed(ctx context.Context, id uuid.UUID) (bool, error)
	Expire(ctx context.Context, id uuid.UUID, fromStep string) (bool, error)
}

type EscrowStore interface {
	Create(ctx context.Context, m *models.EscrowMirror) error
}

type DisputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Dispute, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// DepositAddressProvider hands out the per-room on-chain deposit target.
// The default implementation derives it deterministically; a real contract
// factory can be swapped in behind the same interface.
type DepositAddressProvider interface {
	DepositAddress(roomID uuid.UUID, chainID int64) (string, error)
}
