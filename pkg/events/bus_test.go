package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossgraph/rollup/pkg/config"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []string
	channels []string
	failures int // fail the first N publishes
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("bus unavailable")
	}
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, string(payload))
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func fastConfig() *config.EventsConfig {
	cfg := config.DefaultEventsConfig()
	cfg.PublishBaseDelay = time.Millisecond
	return cfg
}

func TestEmit_EnvelopeShapeAndFieldOrder(t *testing.T) {
	pub := &recordingPublisher{}
	bus := NewBus(pub, fastConfig())

	event := New(ExecutionCompleted, "tenant-a", "rollup_1", "",
		ExecutionCompletedPayload{ExecutionID: "exec_1", MergedNodes: 3, MatchesFound: 2, DurationMs: 40})
	bus.Emit(context.Background(), event)

	require.Len(t, pub.messages, 1)
	raw := pub.messages[0]
	for _, field := range []string{`"eventId"`, `"type":"rollup.execution.completed"`, `"rollupId":"rollup_1"`, `"tenantId":"tenant-a"`, `"correlationId":"corr_rollup_1"`, `"version":1`, `"source":"rollup-service"`} {
		assert.Contains(t, raw, field)
	}
	// Stable wire order: envelope fields in declaration order.
	assert.Less(t, strings.Index(raw, `"eventId"`), strings.Index(raw, `"type"`))
	assert.Less(t, strings.Index(raw, `"type"`), strings.Index(raw, `"rollupId"`))
	assert.Less(t, strings.Index(raw, `"correlationId"`), strings.Index(raw, `"version"`))

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	assert.NotEmpty(t, decoded.EventID)
	assert.NotEmpty(t, decoded.Timestamp)
}

func TestEmit_ChannelRouting(t *testing.T) {
	pub := &recordingPublisher{}
	bus := NewBus(pub, fastConfig())
	ctx := context.Background()

	bus.Emit(ctx, New(RollupCreated, "t", "r1", "", RollupPayload{Name: "prod"}))
	bus.Emit(ctx, New(ExecutionStarted, "t", "r1", "", ExecutionStartedPayload{ExecutionID: "e1"}))

	require.Len(t, pub.channels, 2)
	assert.Equal(t, "rollup:events:lifecycle", pub.channels[0])
	assert.Equal(t, "rollup:events:execution", pub.channels[1])
}

func TestEmit_RetriesThenSucceeds(t *testing.T) {
	pub := &recordingPublisher{failures: 2}
	bus := NewBus(pub, fastConfig())

	bus.Emit(context.Background(), New(RollupUpdated, "t", "r1", "", nil))
	assert.Len(t, pub.messages, 1, "third attempt succeeds within the retry budget")
}

func TestEmit_DropsAfterExhaustionWithoutError(t *testing.T) {
	pub := &recordingPublisher{failures: 10}
	bus := NewBus(pub, fastConfig())

	// Must not panic or block; the event is logged and dropped.
	bus.Emit(context.Background(), New(RollupDeleted, "t", "r1", "", nil))
	assert.Empty(t, pub.messages)
}

func TestEmit_NilPublisherDiscardsSilently(t *testing.T) {
	bus := NewBus(nil, fastConfig())
	bus.Emit(context.Background(), New(RollupCreated, "t", "r1", "", nil))
}

func TestEmit_PreservesPerRollupOrder(t *testing.T) {
	pub := &recordingPublisher{}
	bus := NewBus(pub, fastConfig())
	ctx := context.Background()

	types := []EventType{ExecutionStarted, ExecutionProgress, ExecutionCompleted}
	for _, et := range types {
		bus.Emit(ctx, New(et, "t", "r1", "corr-1", nil))
	}

	require.Len(t, pub.messages, 3)
	for i, et := range types {
		assert.Contains(t, pub.messages[i], string(et))
	}
}

func TestSubscribe_FiltersAndUnsubscribes(t *testing.T) {
	bus := NewBus(nil, fastConfig())
	ctx := context.Background()

	var mu sync.Mutex
	var seen []EventType
	unsubscribe := bus.Subscribe(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	}, ExecutionFailed)

	bus.Emit(ctx, New(ExecutionStarted, "t", "r1", "", nil))
	bus.Emit(ctx, New(ExecutionFailed, "t", "r1", "", nil))
	unsubscribe()
	bus.Emit(ctx, New(ExecutionFailed, "t", "r1", "", nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{ExecutionFailed}, seen)
}

func TestSubscribe_PanicsAreContained(t *testing.T) {
	bus := NewBus(nil, fastConfig())
	bus.Subscribe(func(Event) { panic("handler bug") })

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), New(RollupCreated, "t", "r1", "", nil))
	})
}

func TestRedisPublisher_DeliversOverPubSub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pub := NewRedisPublisher(client)
	defer func() { _ = pub.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	go func() {
		_ = pub.SubscribeChannel(ctx, "rollup:events:lifecycle", func(payload []byte) {
			received <- payload
		})
	}()
	// Give the subscriber a moment to attach.
	time.Sleep(50 * time.Millisecond)

	bus := NewBus(pub, fastConfig())
	bus.Emit(ctx, New(RollupCreated, "tenant-a", "rollup_1", "", RollupPayload{Name: "prod"}))

	select {
	case payload := <-received:
		var event Event
		require.NoError(t, json.Unmarshal(payload, &event))
		assert.Equal(t, RollupCreated, event.Type)
		assert.Equal(t, "tenant-a", event.TenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message delivered over pub/sub")
	}
}
