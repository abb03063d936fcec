package realtime

import "sync"

type handlerEntry struct {
	id int
	fn func(Event)
}

// handlerSet keeps handlers in registration order.
type handlerSet struct {
	mu       sync.RWMutex
	nextID   int
	handlers []handlerEntry
}

func (s *handlerSet) add(fn func(Event)) Subscription {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handlerEntry{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return subscriptionFunc(func() {
		once.Do(func() { s.remove(id) })
	})
}

func (s *handlerSet) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.handlers {
		if h.id == id {
			s.handlers = append(s.handlers[:i:i], s.handlers[i+1:]...)
			return
		}
	}
}

func (s *handlerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// dispatch calls handlers outside the lock so a handler may unsubscribe itself.
func (s *handlerSet) dispatch(e Event) {
	s.mu.RLock()
	snapshot := make([]func(Event), len(s.handlers))
	for i, h := range s.handlers {
		snapshot[i] = h.fn
	}
	s.mu.RUnlock()

	for _, fn := range snapshot {
		fn(e)
	}
}
