// Package rediscache implements the L2 blob cache contract on Redis.
// Tag membership is tracked in Redis sets so invalidation by tag is a set
// walk instead of a full keyspace scan.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const tagSetPrefix = "tags:"

// BlobCache stores cache entries as Redis strings with per-tag member sets.
type BlobCache struct {
	client redis.UniversalClient
}

// New wraps an existing Redis client.
func New(client redis.UniversalClient) *BlobCache {
	return &BlobCache{client: client}
}

// Get implements cache.BlobCache.
func (c *BlobCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set implements cache.BlobCache. The value and its tag memberships are
// written in one pipeline.
func (c *BlobCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, tagSetPrefix+tag, key)
		if ttl > 0 {
			// Keep the tag set alive at least as long as its newest member.
			pipe.Expire(ctx, tagSetPrefix+tag, ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteByTags implements cache.BlobCache.
func (c *BlobCache) DeleteByTags(ctx context.Context, tags []string) (int, error) {
	deleted := 0
	for _, tag := range tags {
		setKey := tagSetPrefix + tag
		members, err := c.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return deleted, err
		}
		if len(members) > 0 {
			n, err := c.client.Del(ctx, members...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		if err := c.client.Del(ctx, setKey).Err(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// DeleteByPattern implements cache.BlobCache with an incremental SCAN, so
// large keyspaces never block the server.
func (c *BlobCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// DeleteByTenant implements cache.BlobCache. Tagged entries go through the
// tag set; untagged stragglers are caught by the tenant key segment.
func (c *BlobCache) DeleteByTenant(ctx context.Context, tenantID string) (int, error) {
	deleted, err := c.DeleteByTags(ctx, []string{"tenant:" + tenantID})
	if err != nil {
		return deleted, err
	}
	swept, err := c.DeleteByPattern(ctx, "*:*:"+tenantID+":*")
	return deleted + swept, err
}
