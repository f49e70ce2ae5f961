// Package sessions provides the sticky-session affinity store: a key-value
// mapping from a session fingerprint (an opaque hash derived upstream from
// conversation identity) to the account that served it, with a per-key TTL.
package sessions

import (
	"context"
	"time"

	"github.com/upb/llm-relay/models"
)

// Mapping is the stored value: the account pinned to a fingerprint.
type Mapping struct {
	AccountID   string             `json:"account_id"`
	AccountType models.AccountType `json:"account_type"`
}

// Store is the session affinity store. Reads, writes, renewals, and deletes
// are independent key-value operations; a lost renewal race is harmless
// because concurrent renewers write the same value.
type Store interface {
	// Get returns the mapping for fingerprint, or nil when none is live.
	Get(ctx context.Context, fingerprint string) (*Mapping, error)

	// Set writes a mapping with the given TTL, replacing any existing one.
	Set(ctx context.Context, fingerprint string, mapping Mapping, ttl time.Duration) error

	// Delete removes the mapping. Deleting an absent key is a no-op.
	Delete(ctx context.Context, fingerprint string) error

	// TTLRemaining returns the time until the mapping expires, zero when
	// the key is absent.
	TTLRemaining(ctx context.Context, fingerprint string) (time.Duration, error)

	// Extend re-applies the full TTL to an existing mapping.
	Extend(ctx context.Context, fingerprint string, ttl time.Duration) error
}
