package realtime

import (
	"context"
	"log/slog"
	"sync"
)

const defaultFeedBuffer = 256

// sessionFeed delivers the events of one game session to its subscribers.
// A single goroutine drains the queue, so subscribers see events in emission order.
type sessionFeed struct {
	events      chan Event
	subscribers handlerSet
	done        chan struct{}
	closeOnce   sync.Once
}

func newSessionFeed(buffer int) *sessionFeed {
	f := &sessionFeed{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *sessionFeed) run() {
	for {
		select {
		case e := <-f.events:
			f.subscribers.dispatch(e)
		case <-f.done:
			return
		}
	}
}

func (f *sessionFeed) close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Gateway is the broadcast entry point on top of a Channel.
type Gateway struct {
	channel Channel
	logger  *slog.Logger
	buffer  int

	mu       sync.Mutex
	feeds    map[string]*sessionFeed
	upstream Subscription
}

type GatewayOption func(*Gateway)

func WithFeedBuffer(size int) GatewayOption {
	return func(g *Gateway) {
		if size > 0 {
			g.buffer = size
		}
	}
}

func NewGateway(channel Channel, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		channel: channel,
		logger:  logger,
		buffer:  defaultFeedBuffer,
		feeds:   make(map[string]*sessionFeed),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect opens the per-session subscription scope and makes sure the channel is connected.
// It reports the channel state after the attempt.
func (g *Gateway) Connect(ctx context.Context, gameSessionID string) bool {
	g.mu.Lock()
	g.ensureUpstreamLocked()
	g.feedLocked(gameSessionID)
	g.mu.Unlock()

	if g.channel.IsConnected() {
		return true
	}
	connected := g.channel.Connect(ctx)
	if !connected {
		g.logger.Warn("realtime channel unavailable", slog.String("game_session_id", gameSessionID))
	}
	return connected
}

// Disconnect closes the session scope and drops its subscribers.
func (g *Gateway) Disconnect(gameSessionID string) {
	g.mu.Lock()
	feed, ok := g.feeds[gameSessionID]
	delete(g.feeds, gameSessionID)
	g.mu.Unlock()

	if ok {
		feed.close()
	}
}

// Release closes the session scope once its last subscriber is gone.
func (g *Gateway) Release(gameSessionID string) bool {
	g.mu.Lock()
	feed, ok := g.feeds[gameSessionID]
	if !ok || feed.subscribers.len() > 0 {
		g.mu.Unlock()
		return false
	}
	delete(g.feeds, gameSessionID)
	g.mu.Unlock()

	feed.close()
	return true
}

func (g *Gateway) IsConnected() bool {
	return g.channel.IsConnected()
}

// Publish sends the event once. It checks connectivity synchronously and never queues or retries.
func (g *Gateway) Publish(ctx context.Context, event Event) bool {
	if !g.channel.IsConnected() {
		g.logger.Debug("publish skipped, channel disconnected",
			slog.String("type", string(event.Kind)),
			slog.String("game_session_id", event.GameSessionID))
		return false
	}
	if err := g.channel.Send(ctx, event); err != nil {
		g.logger.Warn("publish failed",
			slog.String("type", string(event.Kind)),
			slog.String("game_session_id", event.GameSessionID),
			slog.Any("error", err))
		return false
	}
	return true
}

// Subscribe registers handler for events of gameSessionID.
func (g *Gateway) Subscribe(gameSessionID string, handler func(Event)) Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureUpstreamLocked()
	return g.feedLocked(gameSessionID).subscribers.add(handler)
}

// SubscriberCount reports how many handlers are registered for the session.
func (g *Gateway) SubscriberCount(gameSessionID string) int {
	g.mu.Lock()
	feed, ok := g.feeds[gameSessionID]
	g.mu.Unlock()
	if !ok {
		return 0
	}
	return feed.subscribers.len()
}

// Close drops every session and detaches from the channel. The channel itself stays open.
func (g *Gateway) Close() {
	g.mu.Lock()
	feeds := g.feeds
	g.feeds = make(map[string]*sessionFeed)
	upstream := g.upstream
	g.upstream = nil
	g.mu.Unlock()

	if upstream != nil {
		upstream.Unsubscribe()
	}
	for _, feed := range feeds {
		feed.close()
	}
}

func (g *Gateway) ensureUpstreamLocked() {
	if g.upstream == nil {
		g.upstream = g.channel.Subscribe(g.route)
	}
}

func (g *Gateway) feedLocked(gameSessionID string) *sessionFeed {
	feed, ok := g.feeds[gameSessionID]
	if !ok {
		feed = newSessionFeed(g.buffer)
		g.feeds[gameSessionID] = feed
	}
	return feed
}

// route is invoked by the channel for every delivered event.
func (g *Gateway) route(e Event) {
	g.mu.Lock()
	feed, ok := g.feeds[e.GameSessionID]
	g.mu.Unlock()
	if !ok {
		return
	}
	select {
	case feed.events <- e:
	case <-feed.done:
	default:
		g.logger.Warn("session feed full, dropping event",
			slog.String("type", string(e.Kind)),
			slog.String("game_session_id", e.GameSessionID))
	}
}
