package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/escrow-rooms/backend/internal/auth"
	"github.com/escrow-rooms/backend/internal/config"
	"github.com/escrow-rooms/backend/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WSHub fans room events out to websocket clients. Connections subscribe to
// one room each; an event is delivered only to the connections watching the
// room named in its payload.
type WSHub struct {
	cfg        *config.Config
	subscriber events.Subscriber
	log        *zap.Logger
	mu         sync.RWMutex
	rooms      map[uuid.UUID][]*websocket.Conn
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:        cfg,
		subscriber: subscriber,
		log:        log,
		rooms:      make(map[uuid.UUID][]*websocket.Conn),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	err := h.subscriber.Subscribe(ctx, events.StreamRoom, func(event events.Event) {
		h.dispatch(event)
	})
	if err != nil {
		h.log.Error("ws hub subscribe", zap.Error(err))
	}
}

func (h *WSHub) dispatch(event events.Event) {
	rawID, ok := event.Payload["room_id"].(string)
	if !ok {
		return
	}
	roomID, err := uuid.Parse(rawID)
	if err != nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.rooms[roomID] {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

// WSUpgradeMiddleware rejects plain HTTP requests on the websocket route.
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleWS authenticates via the token query param, registers the
// connection under the requested room and blocks on the read loop until the
// client goes away.
func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}
	if _, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr); err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}

	roomID, err := uuid.Parse(conn.Query("room_id"))
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid room_id"}`))
		conn.Close()
		return
	}

	h.mu.Lock()
	h.rooms[roomID] = append(h.rooms[roomID], conn)
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		conns := h.rooms[roomID]
		for i, c := range conns {
			if c == conn {
				h.rooms[roomID] = append(conns[:i], conns[i+1:]...)
				break
			}
		}
		if len(h.rooms[roomID]) == 0 {
			delete(h.rooms, roomID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Read loop only drains control frames; clients never send data.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
