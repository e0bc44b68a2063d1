package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Interface compliance check.
var _ Counter = (*RedisCounter)(nil)

// RedisCounter stores hour and day buckets in Redis so multiple nodes
// share one budget. Buckets expire on their own.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a Counter backed by client. Keys are namespaced
// under prefix; an empty prefix defaults to "ratelimit".
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) hourKey(key string, t time.Time) string {
	return fmt.Sprintf("%s:h:%s:%d", c.prefix, key, hourBucket(t))
}

func (c *RedisCounter) dayKey(key string, t time.Time) string {
	return fmt.Sprintf("%s:d:%s:%d", c.prefix, key, dayBucket(t))
}

// Record increments the hour and day buckets for key at t.
func (c *RedisCounter) Record(ctx context.Context, key string, t time.Time) error {
	t = t.UTC()
	pipe := c.client.TxPipeline()
	hk := c.hourKey(key, t)
	dk := c.dayKey(key, t)
	pipe.Incr(ctx, hk)
	pipe.Expire(ctx, hk, 25*time.Hour)
	pipe.Incr(ctx, dk)
	pipe.Expire(ctx, dk, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit: record %s: %w", key, err)
	}
	return nil
}

// Hours returns per-hour counts for the n hours ending at t, newest first.
func (c *RedisCounter) Hours(ctx context.Context, key string, t time.Time, n int) ([]int, error) {
	t = t.UTC()
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = c.hourKey(key, t.Add(-time.Duration(i)*time.Hour))
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("ratelimit: hours %s: %w", key, err)
	}
	counts := make([]int, n)
	for i, v := range vals {
		counts[i] = parseCount(v)
	}
	return counts, nil
}

// Day returns the count for t's UTC day.
func (c *RedisCounter) Day(ctx context.Context, key string, t time.Time) (int, error) {
	val, err := c.client.Get(ctx, c.dayKey(key, t.UTC())).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratelimit: day %s: %w", key, err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: day %s: %w", key, err)
	}
	return n, nil
}

func parseCount(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
