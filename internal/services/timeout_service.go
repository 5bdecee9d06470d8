package services

import (
	"context"
	"sync"
	"time"

	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/escrow-rooms/backend/internal/models"
	"go.uber.org/zap"
)

// TimeoutService sweeps active rooms and expires the ones whose step budget
// ran out. Budgets count from last_activity_at, so any successful operation
// resets the clock. Steps after the deposit carry no budget: funded money is
// never forfeited by a timer, and disputed rooms are frozen until resolved.
type TimeoutService struct {
	rooms     RoomStore
	auditRepo AuditStore
	publisher events.Publisher
	budgets   map[string]time.Duration
	leadTime  time.Duration
	log       *zap.Logger

	mu     sync.Mutex
	warned map[string]struct{} // roomID+step pairs already warned
}

func NewTimeoutService(rooms RoomStore, auditRepo AuditStore, publisher events.Publisher, cfg *config.Config, log *zap.Logger) *TimeoutService {
	return &TimeoutService{
		rooms:     rooms,
		auditRepo: auditRepo,
		publisher: publisher,
		budgets: map[string]time.Duration{
			models.StepWaitingForPeer:  cfg.PreDepositTimeout,
			models.StepRoleSelection:   cfg.PreDepositTimeout,
			models.StepAmountAgreement: cfg.PreDepositTimeout,
			models.StepFeeSelection:    cfg.PreDepositTimeout,
			models.StepAwaitingDeposit: cfg.DepositTimeout,
		},
		leadTime: cfg.WarningLeadTime,
		log:      log,
		warned:   make(map[string]struct{}),
	}
}

type SweepResult struct {
	Checked int
	Expired int
	Warned  int
}

// TimeRemaining reports how long the room has before its current step
// expires. The second return is false when the step has no budget.
func (s *TimeoutService) TimeRemaining(room *models.Room, now time.Time) (time.Duration, bool) {
	if room.Status == models.RoomStatusDisputed {
		return 0, false
	}
	budget, ok := s.budgets[room.Step]
	if !ok {
		return 0, false
	}
	return room.LastActivityAt.Add(budget).Sub(now), true
}

func (s *TimeoutService) IsCloseToExpiring(room *models.Room, now time.Time) bool {
	remaining, ok := s.TimeRemaining(room, now)
	return ok && remaining > 0 && remaining <= s.leadTime
}

// CheckAndExpireTimedOutRooms runs one sweep. A failure on one room is
// logged and does not stop the sweep.
func (s *TimeoutService) CheckAndExpireTimedOutRooms(ctx context.Context) (SweepResult, error) {
	rooms, err := s.rooms.ListActive(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	now := time.Now()
	res := SweepResult{Checked: len(rooms)}
	for i := range rooms {
		room := &rooms[i]
		remaining, ok := s.TimeRemaining(room, now)
		if !ok || remaining > 0 {
			continue
		}

		applied, err := s.rooms.Expire(ctx, room.ID, room.Step)
		if err != nil {
			s.log.Error("expire room", zap.String("room_id", room.ID.String()), zap.Error(err))
			continue
		}
		if !applied {
			// The room moved on between the read and the write.
			continue
		}
		res.Expired++

		s.auditLog(ctx, "room_expired", room, map[string]any{"step": room.Step})
		s.publish(ctx, events.EventRoomExpired, room, nil)
	}
	return res, nil
}

// SendTimeoutWarnings publishes one warning per room and step when the
// remaining budget drops under the lead time.
func (s *TimeoutService) SendTimeoutWarnings(ctx context.Context) (SweepResult, error) {
	rooms, err := s.rooms.ListActive(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	s.pruneWarned(rooms)

	now := time.Now()
	res := SweepResult{Checked: len(rooms)}
	for i := range rooms {
		room := &rooms[i]
		if !s.IsCloseToExpiring(room, now) {
			continue
		}
		key := room.ID.String() + ":" + room.Step
		s.mu.Lock()
		_, seen := s.warned[key]
		if !seen {
			s.warned[key] = struct{}{}
		}
		s.mu.Unlock()
		if seen {
			continue
		}
		res.Warned++

		remaining, _ := s.TimeRemaining(room, now)
		s.publish(ctx, events.EventTimeoutWarning, room, map[string]any{
			"seconds_remaining": int64(remaining.Seconds()),
		})
	}
	return res, nil
}

// pruneWarned drops dedupe entries whose room moved to another step or left
// the active set, so the map stays bounded by the number of live rooms.
func (s *TimeoutService) pruneWarned(active []models.Room) {
	live := make(map[string]struct{}, len(active))
	for i := range active {
		live[active[i].ID.String()+":"+active[i].Step] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.warned {
		if _, ok := live[key]; !ok {
			delete(s.warned, key)
		}
	}
}

func (s *TimeoutService) auditLog(ctx context.Context, action string, room *models.Room, meta map[string]any) {
	if err := s.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "scheduler",
		Action:     action,
		EntityType: "room",
		EntityID:   &room.ID,
		Meta:       meta,
	}); err != nil {
		s.log.Warn("audit log", zap.Error(err))
	}
}

func (s *TimeoutService) publish(ctx context.Context, eventType string, room *models.Room, extra map[string]any) {
	payload := map[string]any{
		"room_id": room.ID.String(),
		"step":    room.Step,
		"status":  room.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.publisher.Publish(ctx, events.StreamRoom, events.Event{Type: eventType, Payload: payload}); err != nil {
		s.log.Warn("publish event", zap.String("type", eventType), zap.Error(err))
	}
}
