package dto

type AuthWalletRequest struct {
	WalletAddress string  `json:"wallet_address"`
	DisplayName   *string `json:"display_name,omitempty"`
}

type CreateRoomRequest struct {
	Name    string `json:"name"`
	ChainID int64  `json:"chain_id"`
}

type JoinRoomRequest struct {
	Code string `json:"code"`
}

type SelectRoleRequest struct {
	Role string `json:"role"` // sender / receiver
}

type ProposeAmountRequest struct {
	Amount string `json:"amount"` // integer string, smallest token unit
}

type SelectFeePayerRequest struct {
	FeePayer string `json:"fee_payer"` // sender / receiver / split
}

type ConfirmRequest struct {
	Confirmed bool `json:"confirmed"`
}

type CreateDisputeRequest struct {
	Explanation string  `json:"explanation"`
	ProofURL    *string `json:"proof_url,omitempty"`
}
