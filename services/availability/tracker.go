// Package availability tracks the time-boxed health flags the relay layer
// writes after upstream failures: rate-limited, temporarily unavailable, and
// quota exceeded. The scheduler only ever reads these flags; it never probes
// upstreams itself.
package availability

import (
	"context"
	"sync"
	"time"
)

// Flag is one independently settable availability flag.
type Flag string

const (
	// FlagRateLimited is set after an upstream 429, with a provider-specific
	// duration and optionally an explicit reset timestamp.
	FlagRateLimited Flag = "rate_limited"

	// FlagTempUnavailable is set after an upstream 5xx/401/403 for a short
	// fixed window (default 5 minutes).
	FlagTempUnavailable Flag = "temp_unavailable"

	// FlagQuotaExceeded applies to console and vendor-routed accounts.
	FlagQuotaExceeded Flag = "quota_exceeded"
)

// FlagState is the current value of one flag for one account.
type FlagState struct {
	Set bool

	// ResetAt is the upstream-reported reset time, when one was given with
	// a rate-limit mark. Nil otherwise.
	ResetAt *time.Time
}

// Tracker stores per-account availability flags with a TTL.
//
// Implementations must be safe for concurrent use; flag writes and reads are
// independent operations with no cross-request locking.
type Tracker interface {
	// Set raises the flag for ttl. A non-nil resetAt is stored alongside and
	// returned by Get while the flag is up.
	Set(ctx context.Context, accountID string, flag Flag, ttl time.Duration, resetAt *time.Time) error

	// Get returns the flag state. An expired flag reads as not set.
	Get(ctx context.Context, accountID string, flag Flag) (FlagState, error)

	// Clear lowers the flag. Clearing an absent flag is a no-op.
	Clear(ctx context.Context, accountID string, flag Flag) error
}

// memoryEntry is one raised flag with its expiry.
type memoryEntry struct {
	expiresAt time.Time
	resetAt   *time.Time
}

// MemoryTracker is an in-memory Tracker for tests and single-node
// deployments. Instances are explicitly owned and injected at construction,
// never shared process-wide.
type MemoryTracker struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func flagKey(accountID string, flag Flag) string {
	return accountID + ":" + string(flag)
}

// Set implements Tracker.
func (t *MemoryTracker) Set(_ context.Context, accountID string, flag Flag, ttl time.Duration, resetAt *time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[flagKey(accountID, flag)] = memoryEntry{
		expiresAt: t.now().Add(ttl),
		resetAt:   resetAt,
	}
	return nil
}

// Get implements Tracker.
func (t *MemoryTracker) Get(_ context.Context, accountID string, flag Flag) (FlagState, error) {
	t.mu.RLock()
	entry, ok := t.entries[flagKey(accountID, flag)]
	t.mu.RUnlock()

	if !ok {
		return FlagState{}, nil
	}
	if t.now().After(entry.expiresAt) {
		t.mu.Lock()
		delete(t.entries, flagKey(accountID, flag))
		t.mu.Unlock()
		return FlagState{}, nil
	}
	return FlagState{Set: true, ResetAt: entry.resetAt}, nil
}

// Clear implements Tracker.
func (t *MemoryTracker) Clear(_ context.Context, accountID string, flag Flag) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.entries, flagKey(accountID, flag))
	return nil
}

// ConcurrencyCounter reports and maintains per-account in-flight request
// counts for console accounts.
//
// The scheduler only calls Current: admission is a non-atomic pre-check by
// design. The relay layer performs the precise Acquire/Release reservation
// at the moment the upstream call actually starts.
type ConcurrencyCounter interface {
	Current(ctx context.Context, accountID string) (int, error)
	Acquire(ctx context.Context, accountID string, ttl time.Duration) (int, error)
	Release(ctx context.Context, accountID string) error
}

// MemoryCounter is an in-memory ConcurrencyCounter.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

// Current implements ConcurrencyCounter.
func (c *MemoryCounter) Current(_ context.Context, accountID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[accountID], nil
}

// Acquire implements ConcurrencyCounter.
func (c *MemoryCounter) Acquire(_ context.Context, accountID string, _ time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[accountID]++
	return c.counts[accountID], nil
}

// Release implements ConcurrencyCounter.
func (c *MemoryCounter) Release(_ context.Context, accountID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[accountID] > 0 {
		c.counts[accountID]--
	}
	return nil
}
