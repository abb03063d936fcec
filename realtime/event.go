package realtime

import (
	"context"
	"time"
)

type EventKind string

const (
	EventSpectatorJoined    EventKind = "spectator_joined"
	EventSpectatorLeft      EventKind = "spectator_left"
	EventGameStateUpdate    EventKind = "game_state_update"
	EventChatMessage        EventKind = "chat_message"
	EventChatMessageDeleted EventKind = "chat_message_deleted"
)

// Event - сообщение, рассылаемое подписчикам игровой сессии.
type Event struct {
	Kind          EventKind              `json:"type"`
	GameSessionID string                 `json:"game_session_id"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	EmittedAt     time.Time              `json:"emitted_at"`
}

func NewEvent(kind EventKind, gameSessionID string, payload map[string]interface{}) Event {
	return Event{
		Kind:          kind,
		GameSessionID: gameSessionID,
		Payload:       payload,
		EmittedAt:     time.Now().UTC(),
	}
}

type Subscription interface {
	Unsubscribe()
}

// Channel is the transport the gateway publishes through. Implementations are best effort.
type Channel interface {
	Connect(ctx context.Context) bool
	IsConnected() bool
	Send(ctx context.Context, event Event) error
	Subscribe(handler func(Event)) Subscription
	Close() error
}

// Publisher is the narrow view of the gateway that services depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event) bool
	IsConnected() bool
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }
