// Package notify is an in-process publish/subscribe bus. Subscribers are
// called synchronously, in subscription order, by the goroutine that fires.
package notify

import (
	"sync"
)

const (
	TopicBasketRefresh   = "basket.refresh"
	TopicBasketItemAdded = "basket.item.added"
	TopicBasketRendered  = "basket.rendered"
)

// Handler receives the payload a topic was fired with.
type Handler func(topic, payload string)

// Publisher is the side of the bus the basket engine depends on.
type Publisher interface {
	Fire(topic, payload string)
}

type subscription struct {
	id      uint64
	handler Handler
}

type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscription
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string][]subscription)}
}

// Subscribe registers a handler and returns the function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, s := range subs {
		if s.id == id {
			// copy so an in-flight Fire keeps iterating its own snapshot
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.topics[topic] = next
			return
		}
	}
}

// Fire calls every handler subscribed to topic at the time of the call.
// Handlers may subscribe, unsubscribe or fire from within the callback.
func (b *Bus) Fire(topic, payload string) {
	b.mu.RLock()
	subs := b.topics[topic]
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(topic, payload)
	}
}
