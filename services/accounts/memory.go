package accounts

import (
	"context"
	"sync"
	"time"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services"
	"github.com/upb/llm-relay/services/availability"
)

// Durations are the per-family default windows for time-boxed flags.
type Durations struct {
	RateLimit       time.Duration
	TempUnavailable time.Duration
	Quota           time.Duration
}

// DefaultDurations returns the standard flag windows.
func DefaultDurations() Durations {
	return Durations{
		RateLimit:       time.Hour,
		TempUnavailable: 5 * time.Minute,
		Quota:           time.Hour,
	}
}

// MemoryDirectory is a fully in-memory Directory for tests and single-node
// deployments. It owns its accounts map and takes its flag tracker and
// concurrency counter at construction so every test can inject fresh
// instances.
type MemoryDirectory struct {
	accountType models.AccountType
	durations   Durations
	tracker     availability.Tracker
	counter     availability.ConcurrencyCounter

	mu       sync.RWMutex
	accounts map[string]*models.Account
}

// NewMemoryDirectory creates an empty in-memory directory for one family.
func NewMemoryDirectory(accountType models.AccountType, tracker availability.Tracker, counter availability.ConcurrencyCounter) *MemoryDirectory {
	if tracker == nil {
		tracker = availability.NewMemoryTracker()
	}
	if counter == nil {
		counter = availability.NewMemoryCounter()
	}
	return &MemoryDirectory{
		accountType: accountType,
		durations:   DefaultDurations(),
		tracker:     tracker,
		counter:     counter,
		accounts:    make(map[string]*models.Account),
	}
}

// Put inserts or replaces an account descriptor.
func (d *MemoryDirectory) Put(account *models.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[account.ID] = account
}

// Remove deletes an account descriptor.
func (d *MemoryDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, id)
}

// Type implements Directory.
func (d *MemoryDirectory) Type() models.AccountType {
	return d.accountType
}

// GetAccount implements Directory.
func (d *MemoryDirectory) GetAccount(_ context.Context, id string) (*models.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	account, ok := d.accounts[id]
	if !ok {
		return nil, services.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

// ListAccounts implements Directory.
func (d *MemoryDirectory) ListAccounts(_ context.Context) ([]*models.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*models.Account, 0, len(d.accounts))
	for _, account := range d.accounts {
		copied := *account
		out = append(out, &copied)
	}
	return out, nil
}

// RateLimitState implements Directory.
func (d *MemoryDirectory) RateLimitState(ctx context.Context, id string) (availability.FlagState, error) {
	return d.tracker.Get(ctx, id, availability.FlagRateLimited)
}

// MarkRateLimited implements Directory.
func (d *MemoryDirectory) MarkRateLimited(ctx context.Context, id string, resetAt *time.Time) error {
	ttl := d.durations.RateLimit
	if resetAt != nil {
		if until := time.Until(*resetAt); until > 0 {
			ttl = until
		}
	}
	return d.tracker.Set(ctx, id, availability.FlagRateLimited, ttl, resetAt)
}

// ClearRateLimit implements Directory.
func (d *MemoryDirectory) ClearRateLimit(ctx context.Context, id string) error {
	return d.tracker.Clear(ctx, id, availability.FlagRateLimited)
}

// IsTemporarilyUnavailable implements Directory.
func (d *MemoryDirectory) IsTemporarilyUnavailable(ctx context.Context, id string) (bool, error) {
	state, err := d.tracker.Get(ctx, id, availability.FlagTempUnavailable)
	return state.Set, err
}

// MarkTemporarilyUnavailable implements Directory.
func (d *MemoryDirectory) MarkTemporarilyUnavailable(ctx context.Context, id string, _ int, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.durations.TempUnavailable
	}
	return d.tracker.Set(ctx, id, availability.FlagTempUnavailable, ttl, nil)
}

// IsQuotaExceeded implements QuotaDirectory.
func (d *MemoryDirectory) IsQuotaExceeded(ctx context.Context, id string) (bool, error) {
	state, err := d.tracker.Get(ctx, id, availability.FlagQuotaExceeded)
	return state.Set, err
}

// RefreshQuota implements QuotaDirectory. It reconciles the stored status
// with the live quota flag.
func (d *MemoryDirectory) RefreshQuota(ctx context.Context, id string) error {
	state, err := d.tracker.Get(ctx, id, availability.FlagQuotaExceeded)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.accounts[id]
	if !ok {
		return nil
	}
	if state.Set && account.Status == models.StatusActive {
		account.Status = models.StatusQuotaExceeded
	}
	if !state.Set && account.Status == models.StatusQuotaExceeded {
		account.Status = models.StatusActive
	}
	return nil
}

// MarkQuotaExceeded implements QuotaDirectory.
func (d *MemoryDirectory) MarkQuotaExceeded(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.durations.Quota
	}
	return d.tracker.Set(ctx, id, availability.FlagQuotaExceeded, ttl, nil)
}

// CurrentConcurrency implements ConcurrencyDirectory.
func (d *MemoryDirectory) CurrentConcurrency(ctx context.Context, id string) (int, error) {
	return d.counter.Current(ctx, id)
}

// Counter exposes the directory's concurrency counter so the relay layer
// (and tests) can acquire and release slots.
func (d *MemoryDirectory) Counter() availability.ConcurrencyCounter {
	return d.counter
}

// MarkUnauthorized implements CredentialDirectory. A dead credential makes
// the account unusable, so it is also deactivated.
func (d *MemoryDirectory) MarkUnauthorized(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.accounts[id]
	if !ok {
		return services.ErrAccountNotFound
	}
	account.Status = models.StatusUnauthorized
	account.IsActive = false
	return nil
}

// MarkBlocked implements CredentialDirectory.
func (d *MemoryDirectory) MarkBlocked(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.accounts[id]
	if !ok {
		return services.ErrAccountNotFound
	}
	account.Status = models.StatusBlocked
	return nil
}

// MarkUsed implements UsageRecorder.
func (d *MemoryDirectory) MarkUsed(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	account, ok := d.accounts[id]
	if !ok {
		return services.ErrAccountNotFound
	}
	account.LastUsedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return nil
}
