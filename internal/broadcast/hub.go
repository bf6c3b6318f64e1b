package broadcast

import (
	"sync"
)

// Hub fans values out to subscribers. Publish never blocks: every subscriber
// channel holds at most one pending value and a subscriber that has not taken
// it yet sees the newer value replace it.
type Hub[T any] struct {
	lock   sync.RWMutex
	latest T
	ok     bool
	subs   map[chan T]struct{}
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{
		subs: make(map[chan T]struct{}),
	}
}

func (h *Hub[T]) Publish(v T) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.latest = v
	h.ok = true

	for ch := range h.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// Replace the stale value.
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

// Latest returns the most recently published value and whether one exists.
func (h *Hub[T]) Latest() (T, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.latest, h.ok
}

// Reset forgets the latest value so that it is not handed to later callers
// of Latest. Subscribers are kept.
func (h *Hub[T]) Reset() {
	h.lock.Lock()
	defer h.lock.Unlock()

	var zero T
	h.latest = zero
	h.ok = false
}

func (h *Hub[T]) Subscribe() chan T {
	h.lock.Lock()
	defer h.lock.Unlock()

	ch := make(chan T, 1)
	h.subs[ch] = struct{}{}
	return ch
}

func (h *Hub[T]) Unsubscribe(ch chan T) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub[T]) Subscribers() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.subs)
}
