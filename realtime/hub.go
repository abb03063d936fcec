package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var ErrChannelClosed = errors.New("realtime channel closed")

// Hub is the in-process Channel. It also keeps the websocket clients grouped by room.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	logger    *slog.Logger
	handlers  handlerSet
	connected atomic.Bool
	closed    atomic.Bool

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
		rooms:      make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

func RoomName(gameSessionID string) string {
	return "session_" + gameSessionID
}

// Run обрабатывает регистрацию клиентов до отмены ctx.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			if _, ok := h.rooms[client.Room]; !ok {
				h.rooms[client.Room] = make(map[*Client]bool)
			}
			h.rooms[client.Room][client] = true
			total := len(h.rooms[client.Room])
			h.mu.Unlock()
			h.logger.Debug("client registered", slog.String("room", client.Room), slog.Int("clients", total))

		case client := <-h.Unregister:
			h.removeClient(client)

		case <-ctx.Done():
			h.stop()
			h.closeAllClients()
			return
		}
	}
}

func (h *Hub) stop() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Attach registers the client. It reports false when the hub has already stopped.
func (h *Hub) Attach(client *Client) bool {
	select {
	case h.Register <- client:
		return true
	case <-h.done:
		return false
	}
}

// unregister does not block once the hub has stopped.
func (h *Hub) unregister(client *Client) {
	select {
	case h.Unregister <- client:
	case <-h.done:
		h.removeClient(client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.Room]
	if !ok || !room[client] {
		return
	}
	client.closeSend()
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, client.Room)
		h.logger.Debug("room closed", slog.String("room", client.Room))
		return
	}
	h.logger.Debug("client unregistered", slog.String("room", client.Room), slog.Int("clients", len(room)))
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, room := range h.rooms {
		for client := range room {
			client.closeSend()
		}
		delete(h.rooms, name)
	}
}

// RoomSize returns the number of websocket clients attached to the room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Connect(_ context.Context) bool {
	if h.closed.Load() {
		return false
	}
	h.connected.Store(true)
	return true
}

func (h *Hub) IsConnected() bool {
	return h.connected.Load() && !h.closed.Load()
}

// Send delivers the event to local subscribers synchronously.
func (h *Hub) Send(_ context.Context, event Event) error {
	if !h.IsConnected() {
		return ErrChannelClosed
	}
	h.handlers.dispatch(event)
	return nil
}

func (h *Hub) Subscribe(handler func(Event)) Subscription {
	return h.handlers.add(handler)
}

func (h *Hub) Close() error {
	h.closed.Store(true)
	h.connected.Store(false)
	h.stop()
	h.closeAllClients()
	return nil
}
