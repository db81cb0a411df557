package events

import "sync"

// Handler receives notifications. Handlers run synchronously on the
// publishing goroutine, so publication order is the observation order.
type Handler func(Notification)

// Bus fans notifications out to subscribers. Zero value is usable.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(n)
	}
}
