package services

import (
	"context"
	"sync"
	"time"

	"github.com/Dosada05/tournament-history/realtime"
)

type recordingPublisher struct {
	mu        sync.Mutex
	connected bool
	events    []realtime.Event
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{connected: true}
}

func (p *recordingPublisher) Publish(_ context.Context, event realtime.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return false
	}
	p.events = append(p.events, event)
	return true
}

func (p *recordingPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *recordingPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *recordingPublisher) kinds() []realtime.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]realtime.EventKind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func (p *recordingPublisher) last() realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// fakeClock двигается только вручную.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
