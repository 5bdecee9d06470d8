package models

import "time"

// ChainCursor holds the highest fully-processed block number for one chain.
// The block number is carried as a decimal string to avoid range loss; it is
// committed only after every log in a fetched range has been processed.
type ChainCursor struct {
	ChainID   int64     `json:"chain_id"`
	LastBlock string    `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
}
