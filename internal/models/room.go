package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow steps
const (
	StepWaitingForPeer  = "waiting_for_peer"
	StepRoleSelection   = "role_selection"
	StepAmountAgreement = "amount_agreement"
	StepFeeSelection    = "fee_selection"
	StepAwaitingDeposit = "awaiting_deposit"
	StepFunded          = "funded"
	StepReleasing       = "releasing"
	StepCancelling      = "cancelling"
	StepCompleted       = "completed"
	StepCancelled       = "cancelled"
	StepExpired         = "expired"
)

// Room statuses (coarse lifecycle, distinct from the step)
const (
	RoomStatusOpen      = "open"
	RoomStatusCompleted = "completed"
	RoomStatusCancelled = "cancelled"
	RoomStatusExpired   = "expired"
	RoomStatusDisputed  = "disputed"
)

// Participant roles
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// Fee payer options
const (
	FeePayerSender   = "sender"
	FeePayerReceiver = "receiver"
	FeePayerSplit    = "split"
)

// Valid step transitions: from -> []to. EXPIRED is absorbing and is
// reachable from every non-terminal step.
var ValidStepTransitions = map[string][]string{
	StepWaitingForPeer:  {StepRoleSelection, StepExpired},
	StepRoleSelection:   {StepAmountAgreement, StepExpired},
	StepAmountAgreement: {StepFeeSelection, StepExpired},
	StepFeeSelection:    {StepAwaitingDeposit, StepExpired},
	StepAwaitingDeposit: {StepFunded, StepExpired},
	StepFunded:          {StepReleasing, StepCancelling, StepExpired},
	StepReleasing:       {StepCompleted, StepExpired},
	StepCancelling:      {StepCancelled, StepExpired},
	StepCompleted:       {},
	StepCancelled:       {},
	StepExpired:         {},
}

func IsValidStepTransition(from, to string) bool {
	allowed, ok := ValidStepTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminalStep reports whether no further step transitions are possible.
func IsTerminalStep(step string) bool {
	return len(ValidStepTransitions[step]) == 0 && step != ""
}

// IsTerminalStatus reports whether the room status is immutable.
func IsTerminalStatus(status string) bool {
	switch status {
	case RoomStatusCompleted, RoomStatusCancelled, RoomStatusExpired:
		return true
	}
	return false
}

func IsValidRole(role string) bool {
	return role == RoleSender || role == RoleReceiver
}

func IsValidFeePayer(p string) bool {
	return p == FeePayerSender || p == FeePayerReceiver || p == FeePayerSplit
}

// Room is a negotiation session between two parties. Amounts are integer
// strings in the smallest token unit. Terminal rooms are never deleted.
type Room struct {
	ID             uuid.UUID  `json:"id"`
	Code           string     `json:"code"`
	Name           string     `json:"name"`
	ChainID        int64      `json:"chain_id"`
	Step           string     `json:"step"`
	Status         string     `json:"status"`
	SenderUserID   *uuid.UUID `json:"sender_user_id,omitempty"`
	ReceiverUserID *uuid.UUID `json:"receiver_user_id,omitempty"`
	Amount         *string    `json:"amount,omitempty"`
	FeePayer       *string    `json:"fee_payer,omitempty"`
	EscrowAddress  *string    `json:"escrow_address,omitempty"`

	// Mutual confirmations for release/cancel from FUNDED.
	SenderReleaseOK   bool `json:"sender_release_ok"`
	ReceiverReleaseOK bool `json:"receiver_release_ok"`
	SenderCancelOK    bool `json:"sender_cancel_ok"`
	ReceiverCancelOK  bool `json:"receiver_cancel_ok"`

	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Participant binds a user to a room. The role is immutable once set.
type Participant struct {
	ID       uuid.UUID `json:"id"`
	RoomID   uuid.UUID `json:"room_id"`
	UserID   uuid.UUID `json:"user_id"`
	Address  string    `json:"address"`
	Role     *string   `json:"role,omitempty"`
	JoinedAt time.Time `json:"joined_at"`
}
