package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Interface compliance check.
var _ Counter = (*MemoryCounter)(nil)

// MemoryCounter is an in-process Counter for tests and single-node use.
type MemoryCounter struct {
	mu    sync.Mutex
	hours map[string]map[int64]int // key -> unix hour -> count
	days  map[string]map[int64]int // key -> unix day -> count
}

// NewMemoryCounter creates an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		hours: make(map[string]map[int64]int),
		days:  make(map[string]map[int64]int),
	}
}

// Record adds one request at t for key.
func (c *MemoryCounter) Record(_ context.Context, key string, t time.Time) error {
	t = t.UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hours[key] == nil {
		c.hours[key] = make(map[int64]int)
	}
	if c.days[key] == nil {
		c.days[key] = make(map[int64]int)
	}
	c.hours[key][hourBucket(t)]++
	c.days[key][dayBucket(t)]++
	return nil
}

// Hours returns per-hour counts for the n hours ending at t, newest first.
func (c *MemoryCounter) Hours(_ context.Context, key string, t time.Time, n int) ([]int, error) {
	t = t.UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		counts[i] = c.hours[key][hourBucket(t.Add(-time.Duration(i)*time.Hour))]
	}
	return counts, nil
}

// Day returns the count for t's UTC day.
func (c *MemoryCounter) Day(_ context.Context, key string, t time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.days[key][dayBucket(t.UTC())], nil
}

func hourBucket(t time.Time) int64 { return t.Unix() / 3600 }

func dayBucket(t time.Time) int64 { return t.Unix() / 86400 }
