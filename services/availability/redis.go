package availability

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisTracker is a Redis-backed Tracker for multi-instance deployments.
// Flags live under "<prefix><accountID>:<flag>" with Redis-side expiry; the
// value is the reset timestamp when one was supplied, otherwise "1".
type RedisTracker struct {
	client    goredis.Cmdable
	keyPrefix string
}

// TrackerOption configures RedisTracker.
type TrackerOption func(*RedisTracker)

// WithTrackerKeyPrefix sets the key prefix (default "relay:avail:").
func WithTrackerKeyPrefix(prefix string) TrackerOption {
	return func(t *RedisTracker) { t.keyPrefix = prefix }
}

// NewRedisTracker creates a Redis-backed tracker. The client must be a
// connected *goredis.Client or *goredis.ClusterClient.
func NewRedisTracker(client goredis.Cmdable, opts ...TrackerOption) *RedisTracker {
	t := &RedisTracker{
		client:    client,
		keyPrefix: "relay:avail:",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RedisTracker) key(accountID string, flag Flag) string {
	return t.keyPrefix + accountID + ":" + string(flag)
}

// Set implements Tracker.
func (t *RedisTracker) Set(ctx context.Context, accountID string, flag Flag, ttl time.Duration, resetAt *time.Time) error {
	value := "1"
	if resetAt != nil {
		value = resetAt.UTC().Format(time.RFC3339)
	}
	if err := t.client.Set(ctx, t.key(accountID, flag), value, ttl).Err(); err != nil {
		return fmt.Errorf("availability: set %s: %w", flag, err)
	}
	return nil
}

// Get implements Tracker.
func (t *RedisTracker) Get(ctx context.Context, accountID string, flag Flag) (FlagState, error) {
	value, err := t.client.Get(ctx, t.key(accountID, flag)).Result()
	if err == goredis.Nil {
		return FlagState{}, nil
	}
	if err != nil {
		return FlagState{}, fmt.Errorf("availability: get %s: %w", flag, err)
	}

	state := FlagState{Set: true}
	if value != "1" {
		if resetAt, parseErr := time.Parse(time.RFC3339, value); parseErr == nil {
			state.ResetAt = &resetAt
		}
	}
	return state, nil
}

// Clear implements Tracker.
func (t *RedisTracker) Clear(ctx context.Context, accountID string, flag Flag) error {
	if err := t.client.Del(ctx, t.key(accountID, flag)).Err(); err != nil {
		return fmt.Errorf("availability: clear %s: %w", flag, err)
	}
	return nil
}

// RedisCounter is a Redis-backed ConcurrencyCounter. The count key carries
// an expiry refreshed on every Acquire so a crashed relay instance cannot
// pin a stale count forever.
type RedisCounter struct {
	client    goredis.Cmdable
	keyPrefix string
}

// NewRedisCounter creates a Redis-backed concurrency counter.
func NewRedisCounter(client goredis.Cmdable, keyPrefix string) *RedisCounter {
	if keyPrefix == "" {
		keyPrefix = "relay:concurrency:"
	}
	return &RedisCounter{client: client, keyPrefix: keyPrefix}
}

func (c *RedisCounter) key(accountID string) string {
	return c.keyPrefix + accountID
}

// Current implements ConcurrencyCounter.
func (c *RedisCounter) Current(ctx context.Context, accountID string) (int, error) {
	count, err := c.client.Get(ctx, c.key(accountID)).Int()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("availability: current concurrency: %w", err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Acquire implements ConcurrencyCounter.
func (c *RedisCounter) Acquire(ctx context.Context, accountID string, ttl time.Duration) (int, error) {
	key := c.key(accountID)
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("availability: acquire concurrency: %w", err)
	}
	if ttl > 0 {
		if err := c.client.Expire(ctx, key, ttl).Err(); err != nil {
			return int(count), fmt.Errorf("availability: refresh concurrency expiry: %w", err)
		}
	}
	return int(count), nil
}

// Release implements ConcurrencyCounter.
func (c *RedisCounter) Release(ctx context.Context, accountID string) error {
	count, err := c.client.Decr(ctx, c.key(accountID)).Result()
	if err != nil {
		return fmt.Errorf("availability: release concurrency: %w", err)
	}
	if count < 0 {
		// Never let release races drive the count negative.
		return c.client.Set(ctx, c.key(accountID), 0, goredis.KeepTTL).Err()
	}
	return nil
}
