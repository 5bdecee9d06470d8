package chain

import (
	"context"
	"math/big"
	"strconv"

	"github.com/escrow-rooms/backend/internal/apperr"
	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/escrow-rooms/backend/internal/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RoomStore interface {
	GetByEscrowAddress(ctx context.Context, chainID int64, address string) (*models.Room, error)
	ApplyChainEvent(ctx context.Context, id uuid.UUID, escrowStatus string) (bool, error)
}

type MirrorStore interface {
	Upsert(ctx context.Context, m *models.EscrowMirror) error
}

type CursorStore interface {
	Get(ctx context.Context, chainID int64) (string, bool, error)
	Commit(ctx context.Context, chainID int64, block string) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Indexer processes one chain. Cycles are strictly sequential per chain, so
// there is never more than one in flight, and the cursor only commits after
// every log in the window has been handled. A crash mid-window replays the
// window; every write it performs is idempotent.
type Indexer struct {
	chain     config.ChainConfig
	client    Client
	rooms     RoomStore
	mirrors   MirrorStore
	cursors   CursorStore
	auditRepo AuditStore
	publisher events.Publisher
	lookback  uint64
	log       *zap.Logger
}

func NewIndexer(
	chain config.ChainConfig,
	client Client,
	rooms RoomStore,
	mirrors MirrorStore,
	cursors CursorStore,
	auditRepo AuditStore,
	publisher events.Publisher,
	lookback uint64,
	log *zap.Logger,
) *Indexer {
	return &Indexer{
		chain:     chain,
		client:    client,
		rooms:     rooms,
		mirrors:   mirrors,
		cursors:   cursors,
		auditRepo: auditRepo,
		publisher: publisher,
		lookback:  lookback,
		log:       log.With(zap.Int64("chain_id", chain.ID), zap.String("chain", chain.Name)),
	}
}

// RunCycle fetches and processes one block window. Any RPC failure aborts
// the cycle before the cursor moves, so the next cycle retries the same
// window.
func (ix *Indexer) RunCycle(ctx context.Context) error {
	head, err := ix.client.BlockNumber(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeChainRPC, err, "fetch head block")
	}

	from, err := ix.windowStart(ctx, head)
	if err != nil {
		return err
	}
	if from > head {
		return nil // nothing new
	}

	// Logs are fetched for the whole window without an address filter. The
	// set of escrow addresses is unbounded and changes as rooms negotiate,
	// so the filter would have to be rebuilt per cycle from the database;
	// unknown-address logs are cheap to skip at decode time instead.
	logs, err := ix.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(head),
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeChainRPC, err, "filter logs %d..%d", from, head)
	}

	for _, l := range logs {
		if err := ix.processLog(ctx, l); err != nil {
			return err
		}
	}

	if err := ix.cursors.Commit(ctx, ix.chain.ID, strconv.FormatUint(head, 10)); err != nil {
		return err
	}
	ix.log.Debug("cycle done",
		zap.Uint64("from", from), zap.Uint64("to", head), zap.Int("logs", len(logs)))
	return nil
}

// windowStart resolves where this cycle begins: one past the committed
// cursor, or lookback blocks behind the head on a chain seen for the first
// time.
func (ix *Indexer) windowStart(ctx context.Context, head uint64) (uint64, error) {
	cursor, ok, err := ix.cursors.Get(ctx, ix.chain.ID)
	if err != nil {
		return 0, err
	}
	if !ok {
		if head > ix.lookback {
			return head - ix.lookback, nil
		}
		return 0, nil
	}
	last, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDecode, err, "stored cursor %q", cursor)
	}
	return last + 1, nil
}

// processLog mirrors one contract event and, when the contract backs a
// room, reconciles the room state and fans out the notification. Logs that
// do not decode as escrow events are skipped; everything on the chain emits
// logs and most of them are not ours.
func (ix *Indexer) processLog(ctx context.Context, l types.Log) error {
	ev, err := DecodeLog(l)
	if err != nil {
		return nil
	}

	status, err := MirrorStatus(ev.Kind)
	if err != nil {
		return nil
	}

	txHash := ev.TxHash
	blockNum := strconv.FormatUint(ev.BlockNumber, 10)
	mirror := &models.EscrowMirror{
		ChainID: ix.chain.ID,
		Address: ev.Address,
		// Placeholder when the row is created here. Rows for escrows a room
		// negotiated already exist with the agreed terms, and the upsert
		// never overwrites them.
		Amount:          "0",
		Status:          status,
		LastTxHash:      &txHash,
		LastBlockNumber: &blockNum,
	}
	if err := ix.mirrors.Upsert(ctx, mirror); err != nil {
		return err
	}

	room, err := ix.rooms.GetByEscrowAddress(ctx, ix.chain.ID, ev.Address)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil // escrow not backed by any room
		}
		return err
	}

	applied, err := ix.rooms.ApplyChainEvent(ctx, room.ID, status)
	if err != nil {
		return err
	}
	if !applied {
		// Replay of an already-reconciled event, or the room was in a state
		// this event cannot move.
		return nil
	}

	if err := ix.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  "indexer",
		Action:     "chain_event_" + string(ev.Kind),
		EntityType: "room",
		EntityID:   &room.ID,
		Meta: map[string]any{
			"tx_hash": ev.TxHash,
			"block":   ev.BlockNumber,
			"status":  status,
		},
	}); err != nil {
		ix.log.Warn("audit log", zap.Error(err))
	}

	eventType := events.EventChainUpdate
	if ev.Kind == KindDeposited {
		eventType = events.EventDepositReceived
	}
	payload := map[string]any{
		"room_id":       room.ID.String(),
		"chain_id":      ix.chain.ID,
		"escrow_status": status,
		"tx_hash":       ev.TxHash,
	}
	if err := ix.publisher.Publish(ctx, events.StreamRoom, events.Event{Type: eventType, Payload: payload}); err != nil {
		ix.log.Warn("publish event", zap.String("type", eventType), zap.Error(err))
	}

	ix.log.Info("chain event applied",
		zap.String("room_id", room.ID.String()),
		zap.String("kind", string(ev.Kind)),
		zap.String("tx", ev.TxHash))
	return nil
}
