package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("unset flag reads as not set", func(t *testing.T) {
		tracker := NewMemoryTracker()

		state, err := tracker.Get(ctx, "a1", FlagRateLimited)
		require.NoError(t, err)
		assert.False(t, state.Set)
		assert.Nil(t, state.ResetAt)
	})

	t.Run("set flag reads back with reset time", func(t *testing.T) {
		tracker := NewMemoryTracker()
		resetAt := time.Now().Add(30 * time.Minute)

		require.NoError(t, tracker.Set(ctx, "a1", FlagRateLimited, time.Hour, &resetAt))

		state, err := tracker.Get(ctx, "a1", FlagRateLimited)
		require.NoError(t, err)
		assert.True(t, state.Set)
		require.NotNil(t, state.ResetAt)
		assert.Equal(t, resetAt, *state.ResetAt)
	})

	t.Run("flags are independent per account and kind", func(t *testing.T) {
		tracker := NewMemoryTracker()

		require.NoError(t, tracker.Set(ctx, "a1", FlagRateLimited, time.Hour, nil))

		state, err := tracker.Get(ctx, "a1", FlagTempUnavailable)
		require.NoError(t, err)
		assert.False(t, state.Set)

		state, err = tracker.Get(ctx, "a2", FlagRateLimited)
		require.NoError(t, err)
		assert.False(t, state.Set)
	})

	t.Run("expired flag reads as not set", func(t *testing.T) {
		tracker := NewMemoryTracker()
		base := time.Now()
		tracker.now = func() time.Time { return base }

		require.NoError(t, tracker.Set(ctx, "a1", FlagQuotaExceeded, time.Hour, nil))

		tracker.now = func() time.Time { return base.Add(61 * time.Minute) }
		state, err := tracker.Get(ctx, "a1", FlagQuotaExceeded)
		require.NoError(t, err)
		assert.False(t, state.Set)
	})

	t.Run("clear lowers the flag", func(t *testing.T) {
		tracker := NewMemoryTracker()

		require.NoError(t, tracker.Set(ctx, "a1", FlagRateLimited, time.Hour, nil))
		require.NoError(t, tracker.Clear(ctx, "a1", FlagRateLimited))

		state, err := tracker.Get(ctx, "a1", FlagRateLimited)
		require.NoError(t, err)
		assert.False(t, state.Set)
	})

	t.Run("clearing an absent flag is a no-op", func(t *testing.T) {
		tracker := NewMemoryTracker()
		assert.NoError(t, tracker.Clear(ctx, "ghost", FlagRateLimited))
	})
}

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release round trip", func(t *testing.T) {
		counter := NewMemoryCounter()

		count, err := counter.Acquire(ctx, "a1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = counter.Acquire(ctx, "a1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		require.NoError(t, counter.Release(ctx, "a1"))

		current, err := counter.Current(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, 1, current)
	})

	t.Run("release never goes negative", func(t *testing.T) {
		counter := NewMemoryCounter()

		require.NoError(t, counter.Release(ctx, "a1"))

		current, err := counter.Current(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, 0, current)
	})

	t.Run("counts are per account", func(t *testing.T) {
		counter := NewMemoryCounter()

		_, err := counter.Acquire(ctx, "a1", time.Minute)
		require.NoError(t, err)

		current, err := counter.Current(ctx, "a2")
		require.NoError(t, err)
		assert.Equal(t, 0, current)
	})
}
