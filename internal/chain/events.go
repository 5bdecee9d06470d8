package chain

import (
	"math/big"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// EventKind enumerates the escrow contract events the indexer reacts to.
type EventKind string

const (
	KindDeposited EventKind = "deposited"
	KindReleased  EventKind = "released"
	KindRefunded  EventKind = "refunded"
	KindCancelled EventKind = "cancelled"
)

// Topic hashes are derived from the canonical event signatures at init time
// rather than pasted in as hex literals. The contract ABI is
//
//	Deposited(address indexed from, uint256 amount)
//	Released(address indexed toSeller, uint256 sellerAmount, uint256 fee)
//	Refunded(address indexed toBuyer, uint256 amount)
//	Cancelled(address indexed by)
var (
	topicDeposited = crypto.Keccak256Hash([]byte("Deposited(address,uint256)"))
	topicReleased  = crypto.Keccak256Hash([]byte("Released(address,uint256,uint256)"))
	topicRefunded  = crypto.Keccak256Hash([]byte("Refunded(address,uint256)"))
	topicCancelled = crypto.Keccak256Hash([]byte("Cancelled(address)"))
)

var kindByTopic = map[common.Hash]EventKind{
	topicDeposited: KindDeposited,
	topicReleased:  KindReleased,
	topicRefunded:  KindRefunded,
	topicCancelled: KindCancelled,
}

// EscrowEvent is a decoded contract log.
type EscrowEvent struct {
	Kind        EventKind
	Address     string   // escrow contract that emitted the log
	Counterpart string   // depositor, payout target or canceller
	Amount      *big.Int // nil for Cancelled
	Fee         *big.Int // set only for Released
	TxHash      string
	BlockNumber uint64
}

// DecodeLog turns a raw log into an EscrowEvent. Logs from contracts we do
// not recognize decode-fail and the caller skips them.
func DecodeLog(l types.Log) (*EscrowEvent, error) {
	if len(l.Topics) == 0 {
		return nil, apperr.New(apperr.CodeDecode, "log has no topics")
	}
	kind, ok := kindByTopic[l.Topics[0]]
	if !ok {
		return nil, apperr.New(apperr.CodeDecode, "unknown event topic %s", l.Topics[0].Hex())
	}

	// Every event carries one indexed address in topic 1.
	if len(l.Topics) < 2 {
		return nil, apperr.New(apperr.CodeDecode, "%s log missing indexed address", kind)
	}

	ev := &EscrowEvent{
		Kind:        kind,
		Address:     l.Address.Hex(),
		Counterpart: common.BytesToAddress(l.Topics[1].Bytes()).Hex(),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
	}

	switch kind {
	case KindCancelled:
		// No non-indexed arguments.
	case KindReleased:
		if len(l.Data) < 64 {
			return nil, apperr.New(apperr.CodeDecode, "%s log data too short: %d bytes", kind, len(l.Data))
		}
		ev.Amount = new(big.Int).SetBytes(l.Data[:32])
		ev.Fee = new(big.Int).SetBytes(l.Data[32:64])
	default:
		if len(l.Data) < 32 {
			return nil, apperr.New(apperr.CodeDecode, "%s log data too short: %d bytes", kind, len(l.Data))
		}
		ev.Amount = new(big.Int).SetBytes(l.Data[:32])
	}
	return ev, nil
}

// MirrorStatus maps an event kind to the escrow mirror status it implies.
func MirrorStatus(kind EventKind) (string, error) {
	switch kind {
	case KindDeposited:
		return models.EscrowStatusFunded, nil
	case KindReleased:
		return models.EscrowStatusReleased, nil
	case KindRefunded:
		return models.EscrowStatusRefunded, nil
	case KindCancelled:
		return models.EscrowStatusCanceled, nil
	default:
		return "", apperr.New(apperr.CodeDecode, "unmapped event kind %s", kind)
	}
}
