package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store. Mappings are JSON values under
// "<prefix><fingerprint>" with Redis-side expiry.
type RedisStore struct {
	client    goredis.Cmdable
	keyPrefix string
}

// StoreOption configures RedisStore.
type StoreOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "relay:session:").
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// NewRedisStore creates a Redis-backed session store. The client must be a
// connected *goredis.Client or *goredis.ClusterClient.
func NewRedisStore(client goredis.Cmdable, opts ...StoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "relay:session:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(fingerprint string) string {
	return s.keyPrefix + fingerprint
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*Mapping, error) {
	payload, err := s.client.Get(ctx, s.key(fingerprint)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}

	var mapping Mapping
	if err := json.Unmarshal(payload, &mapping); err != nil {
		// A corrupt mapping is unusable; drop it so the next selection
		// establishes a fresh one.
		_ = s.client.Del(ctx, s.key(fingerprint)).Err()
		return nil, nil
	}
	return &mapping, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, fingerprint string, mapping Mapping, ttl time.Duration) error {
	payload, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("sessions: marshal mapping: %w", err)
	}
	if err := s.client.Set(ctx, s.key(fingerprint), payload, ttl).Err(); err != nil {
		return fmt.Errorf("sessions: set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, s.key(fingerprint)).Err(); err != nil {
		return fmt.Errorf("sessions: delete: %w", err)
	}
	return nil
}

// TTLRemaining implements Store.
func (s *RedisStore) TTLRemaining(ctx context.Context, fingerprint string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, s.key(fingerprint)).Result()
	if err != nil {
		return 0, fmt.Errorf("sessions: ttl: %w", err)
	}
	if ttl < 0 {
		// -2 key missing, -1 no expiry set; both read as "no remaining TTL".
		return 0, nil
	}
	return ttl, nil
}

// Extend implements Store.
func (s *RedisStore) Extend(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(fingerprint), ttl).Err(); err != nil {
		return fmt.Errorf("sessions: extend: %w", err)
	}
	return nil
}
