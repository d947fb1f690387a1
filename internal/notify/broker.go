package notify

import (
	"context"
	"sync"
)

// EventBroker delivers events to live subscribers of a topic (a booking id).
type EventBroker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(ctx context.Context, topic string, evt Event) error
}

// Broker is the single-instance EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(_ context.Context, topic string, evt Event) error {
	b.mu.Lock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
	return nil
}

// BrokerSink publishes booking events on the booking's topic.
type BrokerSink struct {
	Broker EventBroker
}

func (s BrokerSink) Name() string { return "broker" }

func (s BrokerSink) Send(ctx context.Context, ev Event) error {
	return s.Broker.Publish(ctx, ev.BookingID, ev)
}
