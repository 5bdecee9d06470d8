package services

import (
	"context"
	"sync"
	"time"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/escrow-rooms/backend/internal/models"
	"github.com/escrow-rooms/backend/internal/repositories"
	"github.com/google/uuid"
)

// memRoomStore mirrors the conditional-write semantics of the SQL
// repository: every step-guarded mutation checks the precondition under
// the lock and reports false instead of writing when it no longer holds.
type memRoomStore struct {
	mu           sync.Mutex
	rooms        map[uuid.UUID]*models.Room
	participants map[uuid.UUID][]models.Participant
}

func newMemRoomStore() *memRoomStore {
	return &memRoomStore{
		rooms:        make(map[uuid.UUID]*models.Room),
		participants: make(map[uuid.UUID][]models.Participant),
	}
}

func (s *memRoomStore) Create(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.ID = uuid.New()
	now := time.Now()
	room.CreatedAt = now
	room.UpdatedAt = now
	room.LastActivityAt = now
	cp := *room
	s.rooms[room.ID] = &cp
	return nil
}

func (s *memRoomStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, apperr.NotFound("room not found")
	}
	cp := *r
	return &cp, nil
}

func (s *memRoomStore) GetByCode(ctx context.Context, code string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Code == code {
			cp := *r
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("room not found")
}

func (s *memRoomStore) List(ctx context.Context, f repositories.RoomFilter) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Room
	for _, r := range s.rooms {
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		if f.Step != nil && r.Step != *f.Step {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *memRoomStore) ListActive(ctx context.Context) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Room
	for _, r := range s.rooms {
		if !models.IsTerminalStep(r.Step) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memRoomStore) AddParticipant(ctx context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.participants[p.RoomID]) >= 2 {
		return apperr.Conflict("room already has two participants")
	}
	p.ID = uuid.New()
	p.JoinedAt = time.Now()
	s.participants[p.RoomID] = append(s.participants[p.RoomID], *p)
	return nil
}

func (s *memRoomStore) Participants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Participant(nil), s.participants[roomID]...), nil
}

func (s *memRoomStore) SetParticipantRole(ctx context.Context, roomID, userID uuid.UUID, role string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parts := s.participants[roomID]
	for i := range parts {
		if parts[i].UserID != userID && parts[i].Role != nil && *parts[i].Role == role {
			return false, nil
		}
	}
	for i := range parts {
		if parts[i].UserID == userID {
			if parts[i].Role != nil {
				return false, nil
			}
			r := role
			parts[i].Role = &r
			return true, nil
		}
	}
	return false, nil
}

func (s *memRoomStore) mutate(id uuid.UUID, fn func(r *models.Room) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return false, nil
	}
	if !fn(r) {
		return false, nil
	}
	r.UpdatedAt = time.Now()
	r.LastActivityAt = r.UpdatedAt
	return true, nil
}

func (s *memRoomStore) AdvanceStep(ctx context.Context, id uuid.UUID, fromStep, toStep string) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if r.Step != fromStep {
			return false
		}
		r.Step = toStep
		return true
	})
}

func (s *memRoomStore) SetRoomRoles(ctx context.Context, id uuid.UUID, fromStep string, senderID, receiverID uuid.UUID) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if r.Step != fromStep {
			return false
		}
		r.SenderUserID = &senderID
		r.ReceiverUserID = &receiverID
		r.Step = models.StepAmountAgreement
		return true
	})
}

func (s *memRoomStore) SetAmount(ctx context.Context, id uuid.UUID, fromStep string, amount *string) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if r.Step != fromStep {
			return false
		}
		r.Amount = amount
		return true
	})
}

func (s *memRoomStore) SetFeePayer(ctx context.Context, id uuid.UUID, fromStep string, feePayer *string) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if r.Step != fromStep {
			return false
		}
		r.FeePayer = feePayer
		return true
	})
}

func (s *memRoomStore) AssignEscrow(ctx context.Context, id uuid.UUID, fromStep, toStep, address string) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if r.Step != fromStep {
			return false
		}
		r.EscrowAddress = &address
		r.Step = toStep
		return true
	})
}

func (s *memRoomStore) SetConfirmation(ctx context.Context, id uuid.UUID, column string) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if r.Step != models.StepFunded {
			return false
		}
		switch column {
		case "sender_release_ok":
			r.SenderReleaseOK = true
		case "receiver_release_ok":
			r.ReceiverReleaseOK = true
		case "sender_cancel_ok":
			r.SenderCancelOK = true
		case "receiver_cancel_ok":
			r.ReceiverCancelOK = true
		default:
			return false
		}
		return true
	})
}

func (s *memRoomStore) MarkDisputed(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if models.IsTerminalStatus(r.Status) {
			return false
		}
		r.Status = models.RoomStatusDisputed
		return true
	})
}

func (s *memRoomStore) Expire(ctx context.Context, id uuid.UUID, fromStep string) (bool, error) {
	return s.mutate(id, func(r *models.Room) bool {
		if r.Step != fromStep || models.IsTerminalStatus(r.Status) {
			return false
		}
		r.Step = models.StepExpired
		r.Status = models.RoomStatusExpired
		return true
	})
}

// setStep force-sets state for test setup, bypassing the workflow.
func (s *memRoomStore) setStep(id uuid.UUID, step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[id].Step = step
}

func (s *memRoomStore) setLastActivity(id uuid.UUID, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[id].LastActivityAt = t
}

type memEscrowStore struct {
	mu      sync.Mutex
	mirrors []models.EscrowMirror
}

func (s *memEscrowStore) Create(ctx context.Context, m *models.EscrowMirror) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrors = append(s.mirrors, *m)
	return nil
}

type memDisputeStore struct {
	mu       sync.Mutex
	disputes []models.Dispute
}

func (s *memDisputeStore) Create(ctx context.Context, d *models.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	s.disputes = append(s.disputes, *d)
	return nil
}

func (s *memDisputeStore) ListByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispute
	for _, d := range s.disputes {
		if d.RoomID == roomID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (s *memAuditStore) Log(ctx context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memAuditStore) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for _, e := range s.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *memPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *memPublisher) byType(eventType string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
