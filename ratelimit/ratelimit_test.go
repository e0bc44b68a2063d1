package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaranowski/loom"
	"github.com/mbaranowski/loom/ratelimit"
)

func TestRetryAfterDay(t *testing.T) {
	t.Parallel()

	midnight := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 86400, ratelimit.RetryAfterDay(midnight))

	noon := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 43200, ratelimit.RetryAfterDay(noon))

	// Sub-second offsets round up.
	justPast := time.Date(2025, 3, 10, 12, 0, 0, 1, time.UTC)
	assert.Equal(t, 43200, ratelimit.RetryAfterDay(justPast))
	almostNoon := time.Date(2025, 3, 10, 11, 59, 59, 500_000_000, time.UTC)
	assert.Equal(t, 43201, ratelimit.RetryAfterDay(almostNoon))
}

func TestRetryAfterHours(t *testing.T) {
	t.Parallel()

	top := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("below limit", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0, ratelimit.RetryAfterHours([]int{1, 1, 1}, 10, top))
	})

	t.Run("dropping the oldest interval suffices", func(t *testing.T) {
		t.Parallel()
		// total 10 >= limit 10; removing the oldest (4) leaves 6.
		got := ratelimit.RetryAfterHours([]int{2, 4, 4}, 10, top)
		assert.Equal(t, 3600, got)
	})

	t.Run("needs two intervals to expire", func(t *testing.T) {
		t.Parallel()
		// removing the oldest (1) leaves 9 >= 10? no, 9 < 10 -> one drop.
		got := ratelimit.RetryAfterHours([]int{4, 5, 1}, 10, top)
		assert.Equal(t, 3600, got)
		// removing the oldest (2) leaves 9 >= 9 -> keep dropping.
		got = ratelimit.RetryAfterHours([]int{4, 5, 2}, 9, top)
		assert.Equal(t, 2*3600, got)
	})

	t.Run("elapsed portion of the current hour is subtracted", func(t *testing.T) {
		t.Parallel()
		later := time.Date(2025, 3, 10, 14, 20, 0, 0, time.UTC)
		got := ratelimit.RetryAfterHours([]int{2, 4, 4}, 10, later)
		assert.Equal(t, 3600-20*60, got)
	})

	t.Run("rounds up to the nearest second", func(t *testing.T) {
		t.Parallel()
		later := time.Date(2025, 3, 10, 14, 20, 0, 1, time.UTC)
		got := ratelimit.RetryAfterHours([]int{2, 4, 4}, 10, later)
		assert.Equal(t, 3600-20*60, got)
	})
}

func TestLimiterCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := func(at time.Time) func() time.Time {
		return func() time.Time { return at }
	}

	t.Run("admits and records under both limits", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		counter := ratelimit.NewMemoryCounter()
		lim := ratelimit.New(counter, ratelimit.Config{
			Plan:      ratelimit.PlanFree,
			DayLimit:  10,
			HourLimit: 5,
		}, ratelimit.WithClock(clock(now)))

		for i := 0; i < 4; i++ {
			require.NoError(t, lim.Check(ctx, "user1"))
		}
		day, err := counter.Day(ctx, "user1", now)
		require.NoError(t, err)
		assert.Equal(t, 4, day)
	})

	t.Run("hour window rejection carries retry hint", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)
		counter := ratelimit.NewMemoryCounter()
		lim := ratelimit.New(counter, ratelimit.Config{
			Plan:      ratelimit.PlanFree,
			HourLimit: 3,
		}, ratelimit.WithClock(clock(now)))

		for i := 0; i < 3; i++ {
			require.NoError(t, lim.Check(ctx, "user1"))
		}
		err := lim.Check(ctx, "user1")
		var limitErr *loom.FreeUsageLimitError
		require.ErrorAs(t, err, &limitErr)
		// All three requests landed in the current hour, so all three
		// window intervals must expire: 3h minus the 30 elapsed minutes.
		assert.Equal(t, 3*3600-30*60, limitErr.RetryAfter)
	})

	t.Run("day limit rejection before hour check", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		counter := ratelimit.NewMemoryCounter()
		for i := 0; i < 2; i++ {
			require.NoError(t, counter.Record(ctx, "user1", now.Add(-5*time.Hour)))
		}
		lim := ratelimit.New(counter, ratelimit.Config{
			Plan:     ratelimit.PlanFree,
			DayLimit: 2,
		}, ratelimit.WithClock(clock(now)))

		err := lim.Check(ctx, "user1")
		var limitErr *loom.FreeUsageLimitError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, 43200, limitErr.RetryAfter)
	})

	t.Run("subscription plan surfaces subscription error", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		counter := ratelimit.NewMemoryCounter()
		require.NoError(t, counter.Record(ctx, "user1", now))
		lim := ratelimit.New(counter, ratelimit.Config{
			Plan:     ratelimit.PlanSubscription,
			DayLimit: 1,
		}, ratelimit.WithClock(clock(now)))

		err := lim.Check(ctx, "user1")
		var limitErr *loom.SubscriptionUsageLimitError
		require.ErrorAs(t, err, &limitErr)
	})

	t.Run("rejected requests are not recorded", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		counter := ratelimit.NewMemoryCounter()
		require.NoError(t, counter.Record(ctx, "user1", now))
		lim := ratelimit.New(counter, ratelimit.Config{
			Plan:     ratelimit.PlanFree,
			DayLimit: 1,
		}, ratelimit.WithClock(clock(now)))

		require.Error(t, lim.Check(ctx, "user1"))
		day, err := counter.Day(ctx, "user1", now)
		require.NoError(t, err)
		assert.Equal(t, 1, day)
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
		counter := ratelimit.NewMemoryCounter()
		lim := ratelimit.New(counter, ratelimit.Config{
			Plan:     ratelimit.PlanFree,
			DayLimit: 1,
		}, ratelimit.WithClock(clock(now)))

		require.NoError(t, lim.Check(ctx, "user1"))
		require.Error(t, lim.Check(ctx, "user1"))
		require.NoError(t, lim.Check(ctx, "user2"))
	})
}

func TestMemoryCounterWindows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	counter := ratelimit.NewMemoryCounter()

	now := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	require.NoError(t, counter.Record(ctx, "k", now))
	require.NoError(t, counter.Record(ctx, "k", now.Add(-time.Hour)))
	require.NoError(t, counter.Record(ctx, "k", now.Add(-time.Hour)))
	require.NoError(t, counter.Record(ctx, "k", now.Add(-26*time.Hour)))

	counts, err := counter.Hours(ctx, "k", now, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 0}, counts)

	day, err := counter.Day(ctx, "k", now)
	require.NoError(t, err)
	assert.Equal(t, 3, day)

	yesterday, err := counter.Day(ctx, "k", now.Add(-26*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, yesterday)
}
