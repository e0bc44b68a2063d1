// Package ratelimit implements the pre-turn usage gate: calendar-day and
// rolling hour-window limits with retry-after hints computed as seconds
// until the limiting window rolls over.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mbaranowski/loom"
)

// Interface compliance check.
var _ loom.RateLimiter = (*Limiter)(nil)

// Counter records requests and reports historical counts. Implementations
// bucket by UTC hour and UTC day.
type Counter interface {
	// Record adds one request at t for key.
	Record(ctx context.Context, key string, t time.Time) error
	// Hours returns per-hour counts for the n hours ending at t, newest
	// first: result[0] is t's hour, result[1] is one hour earlier, and so on.
	Hours(ctx context.Context, key string, t time.Time, n int) ([]int, error)
	// Day returns the count for t's UTC day.
	Day(ctx context.Context, key string, t time.Time) (int, error)
}

// Plan selects which usage-limit error a rejected check surfaces.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanSubscription Plan = "subscription"
)

// Config bounds a Limiter. A zero limit disables that window.
type Config struct {
	Plan        Plan
	DayLimit    int
	HourLimit   int
	WindowHours int // rolling window size; default 3
}

// Limiter admits or rejects turns for a limiting key.
type Limiter struct {
	counter Counter
	cfg     Config
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source. Useful for testing window math.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter over the given counter.
func New(counter Counter, cfg Config, opts ...Option) *Limiter {
	if cfg.WindowHours <= 0 {
		cfg.WindowHours = 3
	}
	l := &Limiter{counter: counter, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Check admits the request and records it, or rejects it with a usage-limit
// error carrying a RetryAfter hint. Rejected requests are not recorded.
func (l *Limiter) Check(ctx context.Context, key string) error {
	now := l.now().UTC()

	if l.cfg.DayLimit > 0 {
		day, err := l.counter.Day(ctx, key, now)
		if err != nil {
			return fmt.Errorf("ratelimit: day count: %w", err)
		}
		if day >= l.cfg.DayLimit {
			return l.limitError(RetryAfterDay(now))
		}
	}

	if l.cfg.HourLimit > 0 {
		counts, err := l.counter.Hours(ctx, key, now, l.cfg.WindowHours)
		if err != nil {
			return fmt.Errorf("ratelimit: hour counts: %w", err)
		}
		total := 0
		for _, c := range counts {
			total += c
		}
		if total >= l.cfg.HourLimit {
			return l.limitError(RetryAfterHours(counts, l.cfg.HourLimit, now))
		}
	}

	if err := l.counter.Record(ctx, key, now); err != nil {
		return fmt.Errorf("ratelimit: record: %w", err)
	}
	return nil
}

func (l *Limiter) limitError(retryAfter int) error {
	if l.cfg.Plan == PlanSubscription {
		return &loom.SubscriptionUsageLimitError{RetryAfter: retryAfter}
	}
	return &loom.FreeUsageLimitError{RetryAfter: retryAfter}
}

// RetryAfterDay returns the seconds until the UTC calendar day rolls over,
// rounded up to the nearest second. At exactly midnight the full day
// remains: 86400.
func RetryAfterDay(now time.Time) int {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	remaining := 24*time.Hour - now.Sub(dayStart)
	return int(math.Ceil(remaining.Seconds()))
}

// RetryAfterHours returns the seconds until enough of the oldest hourly
// intervals leave the rolling window to bring the running total below
// limit. counts is newest first: counts[0] is the current hour. Each whole
// hour that passes drops the oldest remaining interval; the elapsed portion
// of the current hour is subtracted, and the result rounds up to the
// nearest second.
func RetryAfterHours(counts []int, limit int, now time.Time) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	drop := 0
	for i := len(counts) - 1; i >= 0 && total >= limit; i-- {
		total -= counts[i]
		drop++
	}
	if drop == 0 {
		return 0
	}
	now = now.UTC()
	hourStart := now.Truncate(time.Hour)
	remaining := time.Duration(drop)*time.Hour - now.Sub(hourStart)
	return int(math.Ceil(remaining.Seconds()))
}
