package events

import "context"

// Event types published on the room stream. Delivery is fire-and-forget:
// an event with no subscribed recipients is dropped.
const (
	EventRoomUpdated     = "room_updated"
	EventRoomExpired     = "room_expired"
	EventDepositReceived = "deposit_received"
	EventChainUpdate     = "chain_update"
	EventTimeoutWarning  = "timeout_warning"
	EventDisputeOpened   = "dispute_opened"
)

// StreamRoom carries all room-scoped events.
const StreamRoom = "events:room"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
