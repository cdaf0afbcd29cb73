package events

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher delivers bus messages over Redis pub/sub.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher wraps an existing Redis client.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish sends the payload to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Close releases the client connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// SubscribeChannel consumes raw messages from a channel until ctx is done.
// Used by external consumers and integration tests; in-process delivery
// goes through Bus.Subscribe.
func (p *RedisPublisher) SubscribeChannel(ctx context.Context, channel string, handler func(payload []byte)) error {
	sub := p.client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler([]byte(msg.Payload))
		}
	}
}
