package services

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// KeccakDepositProvider derives a deterministic deposit address from the
// room id and chain id, the same way a CREATE2 factory would pin one
// address per room. The derivation is stable across restarts so a room
// always resolves to the same target.
type KeccakDepositProvider struct{}

func NewKeccakDepositProvider() *KeccakDepositProvider {
	return &KeccakDepositProvider{}
}

func (p *KeccakDepositProvider) DepositAddress(roomID uuid.UUID, chainID int64) (string, error) {
	buf := make([]byte, 0, 24)
	buf = append(buf, roomID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(chainID))

	hash := crypto.Keccak256(buf)
	addr := common.BytesToAddress(hash[12:])
	return addr.Hex(), nil
}
