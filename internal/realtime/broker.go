// Package realtime is the portal change feed: an in-process broker that
// fans committed inserts out to subscribers, a websocket server exposing
// it to remote clients over CBOR frames, and the matching client.
package realtime

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/nhle/portal/internal/live"
)

// DefaultBuffer is the number of events queued per subscriber before
// new events are dropped.
const DefaultBuffer = 64

// Event is one inserted record. Record is the Go value published by the
// store, or a cbor.RawMessage when it came off the wire.
type Event struct {
	Table     string
	SubjectID string
	Record    any
}

// Source delivers events for a table and subject. Broker and Client
// implement it.
type Source interface {
	Subscribe(ctx context.Context, f live.Filter, deliver func(Event)) (live.Subscription, error)
}

// Broker is an in-process change feed. Each subscriber gets its own
// queue and goroutine, so a slow subscriber never blocks Publish or
// other subscribers.
type Broker struct {
	log    zerolog.Logger
	buffer int

	mu   sync.RWMutex
	subs map[string]*brokerSub
}

type brokerSub struct {
	broker  *Broker
	id      string
	filter  live.Filter
	queue   chan Event
	deliver func(Event)
	once    sync.Once
}

// NewBroker creates an empty broker.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		log:    log.With().Str("component", "broker").Logger(),
		buffer: DefaultBuffer,
		subs:   make(map[string]*brokerSub),
	}
}

// Publish fans record out to every subscriber of table and subjectID.
// It never blocks. It implements store.ChangeSink.
func (b *Broker) Publish(table, subjectID string, record any) {
	eventsPublished.WithLabelValues(table).Inc()
	ev := Event{Table: table, SubjectID: subjectID, Record: record}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.filter.Table != table || s.filter.SubjectID != subjectID {
			continue
		}
		select {
		case s.queue <- ev:
		default:
			eventsDropped.WithLabelValues(table).Inc()
			b.log.Warn().
				Str("sub", s.id).
				Str("table", table).
				Str("subject", subjectID).
				Msg("subscriber queue full, dropping event")
		}
	}
}

// Subscribe registers deliver for events matching f. deliver runs on a
// goroutine owned by the subscription, one event at a time.
func (b *Broker) Subscribe(ctx context.Context, f live.Filter, deliver func(Event)) (live.Subscription, error) {
	s := &brokerSub{
		broker:  b,
		id:      ulid.Make().String(),
		filter:  f,
		queue:   make(chan Event, b.buffer),
		deliver: deliver,
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()

	activeSubscriptions.WithLabelValues(f.Table).Inc()
	b.log.Debug().Str("sub", s.id).Str("table", f.Table).Str("subject", f.SubjectID).Msg("subscribed")

	go s.run()
	return s, nil
}

// Len returns the number of open subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *brokerSub) run() {
	for ev := range s.queue {
		s.deliver(ev)
		eventsDelivered.WithLabelValues(ev.Table).Inc()
	}
}

// ID returns the subscription id.
func (s *brokerSub) ID() string { return s.id }

// Unsubscribe stops delivery. Events already queued are still delivered.
func (s *brokerSub) Unsubscribe() error {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		delete(b.subs, s.id)
		close(s.queue)
		b.mu.Unlock()

		activeSubscriptions.WithLabelValues(s.filter.Table).Dec()
		b.log.Debug().Str("sub", s.id).Msg("unsubscribed")
	})
	return nil
}
