package feed

import (
	"context"
	"sync"
	"time"
)

// Event announces that a session document changed. Subscribers filter by
// (UserID, Kind) themselves; the feed is a firehose.
type Event struct {
	UserID    uint64    `json:"user_id"`
	Kind      string    `json:"kind"`
	DocID     string    `json:"doc_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber delivers every published event to handler until the returned
// cancel func is called. Delivery is asynchronous with respect to Publish.
type Subscriber interface {
	Subscribe(handler func(Event)) (cancel func(), err error)
}

// Broker is the in-process feed used in tests and single-node deployments
// where no rabbit broker is configured.
type Broker struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]func(Event))}
}

func (b *Broker) Publish(ctx context.Context, ev Event) error {
	_ = ctx
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	// async, matching the broker-backed feed
	for _, h := range handlers {
		go h(ev)
	}
	return nil
}

func (b *Broker) Subscribe(handler func(Event)) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// Subscribers reports how many subscriptions are live.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
