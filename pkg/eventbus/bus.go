// Package eventbus fan-outs node, link, config, session-state, and
// throughput events to registered subscribers (§4.7). Delivery is ordered
// per-topic but may be asynchronous across topics; a subscriber that falls
// behind is dropped rather than buffered unboundedly, per §7 ("a slow
// subscriber is dropped, not buffered unboundedly").
package eventbus

import (
	"sync"

	"github.com/coreemu/coreemu/internal/corelog"
)

// Topic identifies one of the five event channels a subscriber can follow.
type Topic string

const (
	TopicNode         Topic = "node"
	TopicLink         Topic = "link"
	TopicConfig       Topic = "config"
	TopicSessionState Topic = "event"
	TopicThroughput   Topic = "throughput"
)

// Event is a self-contained, serializable notification — it never carries a
// live reference to engine state, so subscribers can retain it indefinitely.
type Event struct {
	Topic     Topic
	SessionID uint32
	Kind      string // e.g. "node-add", "link-delete", "state-change"
	Data      map[string]interface{}
}

// subscriberQueueDepth bounds the per-subscriber backlog before it is
// dropped. A small, fixed depth is deliberate: the contract is "don't block
// the engine for a slow observer", not "deliver eventually no matter what".
const subscriberQueueDepth = 64

type subscriber struct {
	id     uint64
	topic  Topic
	ch     chan Event
	closed bool
}

// Bus is a per-session event dispatcher. One goroutine per subscriber drains
// its channel; Publish never blocks on a slow subscriber.
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	subs      map[Topic]map[uint64]*subscriber
	sessionID uint32
}

// New creates an event bus for the given session.
func New(sessionID uint32) *Bus {
	return &Bus{
		subs:      make(map[Topic]map[uint64]*subscriber),
		sessionID: sessionID,
	}
}

// Subscribe registers a callback for topic and returns an unsubscribe func.
// The callback runs on a dedicated goroutine per subscriber, in publish
// order for that topic; it must not block indefinitely or it will start
// dropping events once its queue fills.
func (b *Bus) Subscribe(topic Topic, handler func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	sub := &subscriber{id: id, topic: topic, ch: make(chan Event, subscriberQueueDepth)}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*subscriber)
	}
	b.subs[topic][id] = sub

	go func() {
		for ev := range sub.ch {
			handler(ev)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		delete(b.subs[topic], id)
		close(sub.ch)
	}
}

// Publish delivers ev to every subscriber of ev.Topic. A subscriber whose
// queue is full is dropped (its channel closed and removed) instead of
// blocking the publisher — exactly one core mutation per call, per §4.7.
func (b *Bus) Publish(ev Event) {
	ev.SessionID = b.sessionID

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			corelog.WithSession(b.sessionID).Warnf("eventbus: subscriber %d on topic %s is slow, dropping", id, ev.Topic)
			sub.closed = true
			delete(b.subs[ev.Topic], id)
			close(sub.ch)
		}
	}
}

// Close unsubscribes and closes channels for every registered subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subs {
		for id, sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}
