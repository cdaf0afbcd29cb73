package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crossgraph/rollup/pkg/config"
	"github.com/crossgraph/rollup/pkg/metrics"
)

// Publisher is the transport behind the bus. Implementations must be safe
// for concurrent use.
type Publisher interface {
	// Publish delivers one message to a channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Close releases transport resources.
	Close() error
}

// Handler receives events delivered to in-process subscribers.
type Handler func(event Event)

type subscriber struct {
	id      int
	handler Handler
	types   map[EventType]bool // empty means all types
}

// Bus wraps a Publisher with envelope construction, channel routing,
// bounded publish retries, and in-process fan-out. A nil Publisher is a
// valid configuration: events are delivered in-process and otherwise
// discarded.
type Bus struct {
	publisher Publisher
	cfg       *config.EventsConfig

	mu     sync.RWMutex
	nextID int
	subs   []subscriber
}

// NewBus creates the bus. publisher may be nil.
func NewBus(publisher Publisher, cfg *config.EventsConfig) *Bus {
	if cfg == nil {
		cfg = config.DefaultEventsConfig()
	}
	return &Bus{publisher: publisher, cfg: cfg}
}

// Emit publishes an event fire-and-forget. The publish (including retries)
// runs synchronously so that per-rollup ordering follows emit order; after
// the retry budget the event is logged and dropped. Emit never fails.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.dispatch(event)

	if b.publisher == nil {
		return
	}
	payload, err := event.Marshal()
	if err != nil {
		slog.Error("Dropping unmarshalable event", "type", event.Type, "rollup_id", event.RollupID, "error", err)
		return
	}
	channel := ChannelFor(b.cfg.ChannelPrefix, event.Type)

	delay := b.cfg.PublishBaseDelay
	for attempt := 1; attempt <= b.cfg.PublishMaxAttempts; attempt++ {
		err = b.publisher.Publish(ctx, channel, payload)
		if err == nil {
			metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()
			return
		}
		if attempt == b.cfg.PublishMaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			slog.Warn("Event publish abandoned, context done",
				"type", event.Type, "rollup_id", event.RollupID, "attempt", attempt)
			metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
			return
		}
		delay *= 2
	}
	metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
	slog.Warn("Dropping event after exhausting publish retries",
		"type", event.Type, "rollup_id", event.RollupID,
		"channel", channel, "attempts", b.cfg.PublishMaxAttempts, "error", err)
}

// Subscribe registers an in-process handler for the given event types (all
// types when none are given). The returned function unsubscribes.
func (b *Bus) Subscribe(handler Handler, types ...EventType) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := subscriber{id: b.nextID, handler: handler, types: make(map[EventType]bool, len(types))}
	for _, t := range types {
		sub.types[t] = true
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// dispatch fans the event out to in-process subscribers. Handler panics are
// recovered and logged; they never reach the emitter.
func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if len(sub.types) > 0 && !sub.types[event.Type] {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Event subscriber panicked", "type", event.Type, "panic", r)
				}
			}()
			sub.handler(event)
		}()
	}
}

// Close closes the underlying publisher, if any.
func (b *Bus) Close() error {
	if b.publisher == nil {
		return nil
	}
	return b.publisher.Close()
}
