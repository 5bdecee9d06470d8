package services

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/escrow-rooms/backend/internal/models"
	"github.com/escrow-rooms/backend/internal/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RoomService is the workflow state machine. It is the sole writer of the
// step/role/amount/fee fields; every operation re-reads current state,
// validates the actor and the step, then performs a conditional write.
// A write whose step precondition no longer holds fails with a conflict and
// the caller retries against the fresh state.
type RoomService struct {
	rooms     RoomStore
	escrows   EscrowStore
	disputes  DisputeStore
	auditRepo AuditStore
	deposits  DepositAddressProvider
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewRoomService(
	rooms RoomStore,
	escrows EscrowStore,
	disputes DisputeStore,
	auditRepo AuditStore,
	deposits DepositAddressProvider,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *RoomService {
	return &RoomService{
		rooms:     rooms,
		escrows:   escrows,
		disputes:  disputes,
		auditRepo: auditRepo,
		deposits:  deposits,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

const joinCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const joinCodeLength = 8

func newJoinCode() (string, error) {
	out := make([]byte, joinCodeLength)
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// isPositiveIntegerString accepts decimal digit strings > 0 (smallest token
// unit, no sign, no separators).
func isPositiveIntegerString(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	return ok && n.Sign() > 0
}

func (s *RoomService) audit(ctx context.Context, actorID *uuid.UUID, actorType, action string, roomID uuid.UUID, meta map[string]any) {
	err := s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      action,
		EntityType:  "room",
		EntityID:    &roomID,
		Meta:        meta,
	})
	if err != nil {
		s.log.Warn("audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *RoomService) publish(ctx context.Context, eventType string, room *models.Room, extra map[string]any) {
	payload := map[string]any{
		"room_id": room.ID.String(),
		"step":    room.Step,
		"status":  room.Status,
	}
	for k, v := range extra {
		payload[k] = v
	}
	err := s.publisher.Publish(ctx, events.StreamRoom, events.Event{
		Type:    eventType,
		Payload: payload,
	})
	if err != nil {
		s.log.Warn("publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func findParticipant(parts []models.Participant, userID uuid.UUID) *models.Participant {
	for i := range parts {
		if parts[i].UserID == userID {
			return &parts[i]
		}
	}
	return nil
}

// requireParticipant loads the room and checks the actor belongs to it.
// Guard order everywhere: room exists, actor authorized, step permits.
func (s *RoomService) requireParticipant(ctx context.Context, roomID, actorID uuid.UUID) (*models.Room, []models.Participant, *models.Participant, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, nil, nil, err
	}
	parts, err := s.rooms.Participants(ctx, roomID)
	if err != nil {
		return nil, nil, nil, err
	}
	actor := findParticipant(parts, actorID)
	if actor == nil {
		return nil, nil, nil, apperr.Unauthorized("actor is not a participant of this room")
	}
	return room, parts, actor, nil
}

func requireRole(actor *models.Participant, role string) error {
	if actor.Role == nil || *actor.Role != role {
		return apperr.Unauthorized("action requires the %s role", role)
	}
	return nil
}

func requireStep(room *models.Room, step string) error {
	if room.Step != step {
		return apperr.Sequence("action requires step %s, room is at %s", step, room.Step)
	}
	return nil
}

// CreateRoom opens a new session at WAITING_FOR_PEER; the creator joins as
// the first participant with no role yet.
func (s *RoomService) CreateRoom(ctx context.Context, actorID uuid.UUID, name string, chainID int64) (*models.Room, error) {
	if _, ok := s.cfg.ChainByID(chainID); !ok {
		return nil, apperr.Validation("chain %d is not configured", chainID)
	}
	if name == "" {
		return nil, apperr.Validation("room name is required")
	}

	code, err := newJoinCode()
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		Code:    code,
		Name:    name,
		ChainID: chainID,
		Step:    models.StepWaitingForPeer,
		Status:  models.RoomStatusOpen,
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}

	if err := s.rooms.AddParticipant(ctx, &models.Participant{RoomID: room.ID, UserID: actorID}); err != nil {
		return nil, err
	}

	s.audit(ctx, &actorID, "user", "room_created", room.ID, map[string]any{"chain_id": chainID})
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// JoinByCode adds the second participant and advances to ROLE_SELECTION.
func (s *RoomService) JoinByCode(ctx context.Context, actorID uuid.UUID, code string) (*models.Room, error) {
	room, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	parts, err := s.rooms.Participants(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if findParticipant(parts, actorID) != nil {
		return nil, apperr.Conflict("already a participant of this room")
	}
	if err := requireStep(room, models.StepWaitingForPeer); err != nil {
		return nil, apperr.Conflict("room is no longer accepting participants")
	}

	if err := s.rooms.AddParticipant(ctx, &models.Participant{RoomID: room.ID, UserID: actorID}); err != nil {
		return nil, err
	}

	applied, err := s.rooms.AdvanceStep(ctx, room.ID, models.StepWaitingForPeer, models.StepRoleSelection)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Conflict("room state changed, retry")
	}

	s.audit(ctx, &actorID, "user", "room_joined", room.ID, nil)
	room, err = s.rooms.GetByID(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// SelectRole claims sender or receiver for the actor. Once both
// participants hold distinct roles the room advances to AMOUNT_AGREEMENT.
func (s *RoomService) SelectRole(ctx context.Context, actorID, roomID uuid.UUID, role string) (*models.Room, error) {
	if !models.IsValidRole(role) {
		return nil, apperr.Validation("role must be sender or receiver")
	}

	room, _, actor, err := s.requireParticipant(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireStep(room, models.StepRoleSelection); err != nil {
		return nil, err
	}
	if actor.Role != nil {
		return nil, apperr.Validation("role already chosen")
	}

	applied, err := s.rooms.SetParticipantRole(ctx, roomID, actorID, role)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Validation("role %s is already taken", role)
	}

	// Both roles assigned -> advance and pin the role references on the room.
	parts, err := s.rooms.Participants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var senderID, receiverID *uuid.UUID
	for i := range parts {
		if parts[i].Role == nil {
			continue
		}
		switch *parts[i].Role {
		case models.RoleSender:
			senderID = &parts[i].UserID
		case models.RoleReceiver:
			receiverID = &parts[i].UserID
		}
	}
	if senderID != nil && receiverID != nil {
		applied, err := s.rooms.SetRoomRoles(ctx, roomID, models.StepRoleSelection, *senderID, *receiverID)
		if err != nil {
			return nil, err
		}
		if !applied {
			// Another writer advanced the room first; current state decides.
			room, err = s.rooms.GetByID(ctx, roomID)
			if err != nil {
				return nil, err
			}
			if room.Step != models.StepAmountAgreement {
				return nil, apperr.Conflict("room state changed, retry")
			}
		}
	}

	s.audit(ctx, &actorID, "user", "role_selected", roomID, map[string]any{"role": role})
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// ProposeAmount records the sender's proposal without advancing the step;
// the receiver has to confirm it.
func (s *RoomService) ProposeAmount(ctx context.Context, actorID, roomID uuid.UUID, amount string) (*models.Room, error) {
	room, _, actor, err := s.requireParticipant(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.RoleSender); err != nil {
		return nil, err
	}
	if err := requireStep(room, models.StepAmountAgreement); err != nil {
		return nil, err
	}
	if !isPositiveIntegerString(amount) {
		return nil, apperr.Validation("amount must be a positive integer string in the smallest token unit")
	}

	applied, err := s.rooms.SetAmount(ctx, roomID, models.StepAmountAgreement, &amount)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Conflict("room state changed, retry")
	}

	s.audit(ctx, &actorID, "user", "amount_proposed", roomID, map[string]any{"amount": amount})
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// ConfirmAmount either advances to FEE_SELECTION or clears the proposal so
// the sender can try again.
func (s *RoomService) ConfirmAmount(ctx context.Context, actorID, roomID uuid.UUID, confirmed bool) (*models.Room, error) {
	room, _, actor, err := s.requireParticipant(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.RoleReceiver); err != nil {
		return nil, err
	}
	if err := requireStep(room, models.StepAmountAgreement); err != nil {
		return nil, err
	}
	if room.Amount == nil {
		return nil, apperr.Sequence("no amount has been proposed yet")
	}

	if confirmed {
		applied, err := s.rooms.AdvanceStep(ctx, roomID, models.StepAmountAgreement, models.StepFeeSelection)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperr.Conflict("room state changed, retry")
		}
	} else {
		applied, err := s.rooms.SetAmount(ctx, roomID, models.StepAmountAgreement, nil)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperr.Conflict("room state changed, retry")
		}
	}

	s.audit(ctx, &actorID, "user", "amount_confirmed", roomID, map[string]any{"confirmed": confirmed})
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// SelectFeePayer records the sender's fee split proposal; same two-step
// shape as the amount agreement.
func (s *RoomService) SelectFeePayer(ctx context.Context, actorID, roomID uuid.UUID, feePayer string) (*models.Room, error) {
	room, _, actor, err := s.requireParticipant(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.RoleSender); err != nil {
		return nil, err
	}
	if err := requireStep(room, models.StepFeeSelection); err != nil {
		return nil, err
	}
	if !models.IsValidFeePayer(feePayer) {
		return nil, apperr.Validation("fee payer must be sender, receiver or split")
	}

	applied, err := s.rooms.SetFeePayer(ctx, roomID, models.StepFeeSelection, &feePayer)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Conflict("room state changed, retry")
	}

	s.audit(ctx, &actorID, "user", "fee_payer_selected", roomID, map[string]any{"fee_payer": feePayer})
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// ConfirmFee finishes the negotiation: on mutual agreement the room gets its
// deterministic deposit target, an escrow mirror row is seeded with the
// agreed terms and the step moves to AWAITING_DEPOSIT.
func (s *RoomService) ConfirmFee(ctx context.Context, actorID, roomID uuid.UUID, confirmed bool) (*models.Room, error) {
	room, parts, actor, err := s.requireParticipant(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if err := requireRole(actor, models.RoleReceiver); err != nil {
		return nil, err
	}
	if err := requireStep(room, models.StepFeeSelection); err != nil {
		return nil, err
	}
	if room.FeePayer == nil {
		return nil, apperr.Sequence("no fee payer has been selected yet")
	}

	if !confirmed {
		applied, err := s.rooms.SetFeePayer(ctx, roomID, models.StepFeeSelection, nil)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperr.Conflict("room state changed, retry")
		}
	} else {
		address, err := s.deposits.DepositAddress(roomID, room.ChainID)
		if err != nil {
			return nil, err
		}

		applied, err := s.rooms.AssignEscrow(ctx, roomID, models.StepFeeSelection, models.StepAwaitingDeposit, address)
		if err != nil {
			return nil, err
		}
		if !applied {
			return nil, apperr.Conflict("room state changed, retry")
		}

		var buyer, seller string
		for _, p := range parts {
			if p.Role == nil {
				continue
			}
			switch *p.Role {
			case models.RoleSender:
				buyer = p.Address
			case models.RoleReceiver:
				seller = p.Address
			}
		}
		amount := ""
		if room.Amount != nil {
			amount = *room.Amount
		}
		if err := s.escrows.Create(ctx, &models.EscrowMirror{
			ChainID:       room.ChainID,
			Address:       address,
			BuyerAddress:  buyer,
			SellerAddress: seller,
			Token:         nativeToken,
			Amount:        amount,
			FeeBPS:        s.cfg.PlatformFeeBPS,
			Status:        models.EscrowStatusAwaitingDeposit,
		}); err != nil {
			return nil, err
		}
	}

	s.audit(ctx, &actorID, "user", "fee_confirmed", roomID, map[string]any{"confirmed": confirmed})
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// nativeToken marks a native-coin escrow in the mirror.
const nativeToken = "0x0000000000000000000000000000000000000000"

// ConfirmRelease records one side's consent to release; when both sides
// have consented the room moves to RELEASING and waits for the on-chain
// Released event to complete.
func (s *RoomService) ConfirmRelease(ctx context.Context, actorID, roomID uuid.UUID) (*models.Room, error) {
	return s.confirmSettlement(ctx, actorID, roomID, "release")
}

// ConfirmCancel is the cancellation twin of ConfirmRelease.
func (s *RoomService) ConfirmCancel(ctx context.Context, actorID, roomID uuid.UUID) (*models.Room, error) {
	return s.confirmSettlement(ctx, actorID, roomID, "cancel")
}

func (s *RoomService) confirmSettlement(ctx context.Context, actorID, roomID uuid.UUID, kind string) (*models.Room, error) {
	room, _, actor, err := s.requireParticipant(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role == nil {
		return nil, apperr.Unauthorized("actor has no role in this room")
	}
	if err := requireStep(room, models.StepFunded); err != nil {
		return nil, err
	}

	column := *actor.Role + "_" + kind + "_ok"
	applied, err := s.rooms.SetConfirmation(ctx, roomID, column)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, apperr.Conflict("room state changed, retry")
	}

	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	bothAgreed := false
	target := ""
	switch kind {
	case "release":
		bothAgreed = room.SenderReleaseOK && room.ReceiverReleaseOK
		target = models.StepReleasing
	case "cancel":
		bothAgreed = room.SenderCancelOK && room.ReceiverCancelOK
		target = models.StepCancelling
	}

	if bothAgreed {
		applied, err := s.rooms.AdvanceStep(ctx, roomID, models.StepFunded, target)
		if err != nil {
			return nil, err
		}
		if !applied {
			// The other side's confirmation may have advanced it already.
			room, err = s.rooms.GetByID(ctx, roomID)
			if err != nil {
				return nil, err
			}
			if room.Step != target {
				return nil, apperr.Conflict("room state changed, retry")
			}
		}
	}

	s.audit(ctx, &actorID, "user", kind+"_confirmed", roomID, nil)
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventRoomUpdated, room, nil)
	return room, nil
}

// CreateDispute flags the room DISPUTED without touching the step; legal
// from FUNDED onward and it does not block transitions that remain legal.
func (s *RoomService) CreateDispute(ctx context.Context, actorID, roomID uuid.UUID, explanation string, proofURL *string) (*models.Room, error) {
	room, _, _, err := s.requireParticipant(ctx, roomID, actorID)
	if err != nil {
		return nil, err
	}
	switch room.Step {
	case models.StepFunded, models.StepReleasing, models.StepCancelling:
	default:
		return nil, apperr.Sequence("disputes are only available once the escrow is funded")
	}
	if explanation == "" {
		return nil, apperr.Validation("explanation is required")
	}

	dispute := &models.Dispute{
		RoomID:       roomID,
		OpenerUserID: actorID,
		Explanation:  explanation,
		ProofURL:     proofURL,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, err
	}

	if _, err := s.rooms.MarkDisputed(ctx, roomID); err != nil {
		return nil, err
	}

	s.audit(ctx, &actorID, "user", "dispute_opened", roomID, map[string]any{"dispute_id": dispute.ID.String()})
	room, err = s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventDisputeOpened, room, map[string]any{"dispute_id": dispute.ID.String()})
	return room, nil
}

// --- reads ---

func (s *RoomService) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	return s.rooms.GetByID(ctx, id)
}

func (s *RoomService) ListRooms(ctx context.Context, f repositories.RoomFilter) ([]models.Room, error) {
	return s.rooms.List(ctx, f)
}

func (s *RoomService) GetParticipants(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.rooms.Participants(ctx, roomID)
}

func (s *RoomService) GetRoomEvents(ctx context.Context, roomID uuid.UUID) ([]models.AuditLog, error) {
	return s.auditRepo.GetByEntity(ctx, "room", roomID, 100, 0)
}

func (s *RoomService) GetDisputes(ctx context.Context, roomID uuid.UUID) ([]models.Dispute, error) {
	return s.disputes.ListByRoom(ctx, roomID)
}

// PaymentInfo is what the depositing party needs to fund the escrow.
type PaymentInfo struct {
	RoomID        string `json:"room_id"`
	ChainID       int64  `json:"chain_id"`
	EscrowAddress string `json:"escrow_address"`
	Amount        string `json:"amount"`
	FeePayer      string `json:"fee_payer"`
}

func (s *RoomService) GetPaymentInfo(ctx context.Context, roomID uuid.UUID) (*PaymentInfo, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.EscrowAddress == nil || room.Amount == nil || room.FeePayer == nil {
		return nil, apperr.Sequence("room has no deposit target yet")
	}
	return &PaymentInfo{
		RoomID:        room.ID.String(),
		ChainID:       room.ChainID,
		EscrowAddress: *room.EscrowAddress,
		Amount:        *room.Amount,
		FeePayer:      *room.FeePayer,
	}, nil
}
