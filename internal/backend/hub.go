package backend

import (
	"sync"
)

// SessionHub fans sessions out to the subscribers of a flow.
type SessionHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(Session)
}

func NewSessionHub() *SessionHub {
	return &SessionHub{subs: make(map[string]map[uint64]func(Session))}
}

type hubSubscription struct {
	hub  *SessionHub
	key  string
	id   uint64
	once sync.Once
}

func (s *hubSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()

		callbacks := s.hub.subs[s.key]
		delete(callbacks, s.id)
		if len(callbacks) == 0 {
			delete(s.hub.subs, s.key)
		}
	})
}

func (h *SessionHub) Subscribe(key string, fn func(Session)) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]func(Session))
	}
	h.subs[key][h.nextID] = fn

	return &hubSubscription{hub: h, key: key, id: h.nextID}
}

// Publish delivers s to every current subscriber of key and reports how many
// received it. Callbacks run outside the hub lock.
func (h *SessionHub) Publish(key string, s Session) int {
	h.mu.Lock()
	callbacks := make([]func(Session), 0, len(h.subs[key]))
	for _, fn := range h.subs[key] {
		callbacks = append(callbacks, fn)
	}
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(s)
	}
	return len(callbacks)
}

// Subscribers returns the number of live subscriptions for key.
func (h *SessionHub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}
