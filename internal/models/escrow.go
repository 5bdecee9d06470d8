package models

import "time"

// Escrow mirror statuses, derived from on-chain events.
const (
	EscrowStatusAwaitingDeposit = "awaiting_deposit"
	EscrowStatusFunded          = "funded"
	EscrowStatusReleased        = "released"
	EscrowStatusRefunded        = "refunded"
	EscrowStatusCanceled        = "canceled"
)

// EscrowMirror is the cached projection of one on-chain escrow contract
// instance, keyed by (chain id, address). Its status is whatever the most
// recently processed event for the address carried; no block-height ordering
// check is applied.
type EscrowMirror struct {
	ChainID         int64     `json:"chain_id"`
	Address         string    `json:"address"`
	BuyerAddress    string    `json:"buyer_address"`
	SellerAddress   string    `json:"seller_address"`
	Token           string    `json:"token"`
	Amount          string    `json:"amount"` // integer string, smallest unit
	FeeBPS          int       `json:"fee_bps"`
	Status          string    `json:"status"`
	LastTxHash      *string   `json:"last_tx_hash,omitempty"`
	LastBlockNumber *string   `json:"last_block_number,omitempty"` // decimal string
	UpdatedAt       time.Time `json:"updated_at"`
}
