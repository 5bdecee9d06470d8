package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute flags a room for human resolution. Opening one does not block
// transitions that are otherwise legal.
type Dispute struct {
	ID           uuid.UUID  `json:"id"`
	RoomID       uuid.UUID  `json:"room_id"`
	OpenerUserID uuid.UUID  `json:"opener_user_id"`
	Explanation  string     `json:"explanation"`
	ProofURL     *string    `json:"proof_url,omitempty"`
	ProofChecked bool       `json:"proof_checked"`
	ProofAlive   *bool      `json:"proof_alive,omitempty"`
	ProofTitle   *string    `json:"proof_title,omitempty"`
	CheckedAt    *time.Time `json:"checked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
