package events

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"
)

// Hub fans per-session events out to any number of watchers. Each session
// topic has exactly one bus subscriber so that unsubscribing is unambiguous.
type Hub[T any] struct {
	bus    evbus.Bus
	mu     sync.Mutex
	topics map[string]*fanout[T]
}

// NewHub creates a hub on a fresh bus.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		bus:    evbus.New(),
		topics: make(map[string]*fanout[T]),
	}
}

func topic(sessionID string) string {
	return "session:" + sessionID + ":changed"
}

// Publish delivers v to the watchers of sessionID without blocking.
func (h *Hub[T]) Publish(sessionID string, v T) {
	h.bus.Publish(topic(sessionID), v)
}

// Watch returns a channel of events for sessionID and a cancel function
// that closes it. When a watcher falls behind, the oldest pending event is
// dropped.
func (h *Hub[T]) Watch(sessionID string, buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	t := topic(sessionID)

	h.mu.Lock()
	f, ok := h.topics[t]
	if !ok {
		f = &fanout[T]{watchers: make(map[uint64]chan T)}
		// Subscribe only fails for non-func handlers.
		_ = h.bus.Subscribe(t, f.deliver)
		h.topics[t] = f
	}
	ch := make(chan T, buffer)
	id := f.add(ch)
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			// After Close the topic may belong to a newer fanout.
			if f.remove(id) == 0 && h.topics[t] == f {
				_ = h.bus.Unsubscribe(t, f.deliver)
				delete(h.topics, t)
			}
		})
	}
	return ch, cancel
}

// Close ends every watch of sessionID; their channels are closed.
func (h *Hub[T]) Close(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked(topic(sessionID))
}

// CloseAll ends every watch on the hub.
func (h *Hub[T]) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t := range h.topics {
		h.closeLocked(t)
	}
}

func (h *Hub[T]) closeLocked(t string) {
	f, ok := h.topics[t]
	if !ok {
		return
	}
	_ = h.bus.Unsubscribe(t, f.deliver)
	delete(h.topics, t)
	f.closeAll()
}

// Watchers reports how many watchers sessionID has.
func (h *Hub[T]) Watchers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.topics[topic(sessionID)]
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

type fanout[T any] struct {
	mu       sync.Mutex
	next     uint64
	watchers map[uint64]chan T
}

func (f *fanout[T]) add(ch chan T) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.watchers[f.next] = ch
	return f.next
}

func (f *fanout[T]) remove(id uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.watchers[id]; ok {
		delete(f.watchers, id)
		close(ch)
	}
	return len(f.watchers)
}

func (f *fanout[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.watchers {
		delete(f.watchers, id)
		close(ch)
	}
}

func (f *fanout[T]) deliver(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.watchers {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}
