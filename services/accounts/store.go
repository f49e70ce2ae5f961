package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/repositories"
	"github.com/upb/llm-relay/services"
	"github.com/upb/llm-relay/services/availability"
	"go.uber.org/zap"
)

// StoreDirectory is the production Directory: descriptors come from the
// account repository, time-boxed flags from the availability tracker, and
// in-flight counts from the concurrency counter.
type StoreDirectory struct {
	accountType models.AccountType
	durations   Durations
	repo        repositories.AccountRepository
	tracker     availability.Tracker
	counter     availability.ConcurrencyCounter
	logger      *zap.Logger
}

// NewStoreDirectory creates a repository-backed directory for one family.
func NewStoreDirectory(
	accountType models.AccountType,
	repo repositories.AccountRepository,
	tracker availability.Tracker,
	counter availability.ConcurrencyCounter,
	durations Durations,
	logger *zap.Logger,
) *StoreDirectory {
	if durations.RateLimit == 0 {
		durations = DefaultDurations()
	}
	return &StoreDirectory{
		accountType: accountType,
		durations:   durations,
		repo:        repo,
		tracker:     tracker,
		counter:     counter,
		logger:      logger,
	}
}

// Type implements Directory.
func (d *StoreDirectory) Type() models.AccountType {
	return d.accountType
}

// GetAccount implements Directory.
func (d *StoreDirectory) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := d.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrAccountNotFound
		}
		return nil, services.WrapInternal("failed to load account", err)
	}
	if account.Type != d.accountType {
		return nil, services.ErrAccountNotFound
	}
	return account, nil
}

// ListAccounts implements Directory.
func (d *StoreDirectory) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	accounts, err := d.repo.ListByType(ctx, d.accountType)
	if err != nil {
		return nil, services.WrapInternal("failed to list accounts", err)
	}
	return accounts, nil
}

// RateLimitState implements Directory.
func (d *StoreDirectory) RateLimitState(ctx context.Context, id string) (availability.FlagState, error) {
	return d.tracker.Get(ctx, id, availability.FlagRateLimited)
}

// MarkRateLimited implements Directory.
func (d *StoreDirectory) MarkRateLimited(ctx context.Context, id string, resetAt *time.Time) error {
	ttl := d.durations.RateLimit
	if resetAt != nil {
		if until := time.Until(*resetAt); until > 0 {
			ttl = until
		}
	}
	d.logger.Warn("account rate limited",
		zap.String("account_type", string(d.accountType)),
		zap.String("account_id", id),
		zap.Duration("ttl", ttl))
	return d.tracker.Set(ctx, id, availability.FlagRateLimited, ttl, resetAt)
}

// ClearRateLimit implements Directory.
func (d *StoreDirectory) ClearRateLimit(ctx context.Context, id string) error {
	return d.tracker.Clear(ctx, id, availability.FlagRateLimited)
}

// IsTemporarilyUnavailable implements Directory.
func (d *StoreDirectory) IsTemporarilyUnavailable(ctx context.Context, id string) (bool, error) {
	state, err := d.tracker.Get(ctx, id, availability.FlagTempUnavailable)
	return state.Set, err
}

// MarkTemporarilyUnavailable implements Directory.
func (d *StoreDirectory) MarkTemporarilyUnavailable(ctx context.Context, id string, statusCode int, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.durations.TempUnavailable
	}
	d.logger.Warn("account temporarily unavailable",
		zap.String("account_type", string(d.accountType)),
		zap.String("account_id", id),
		zap.Int("status_code", statusCode),
		zap.Duration("ttl", ttl))
	return d.tracker.Set(ctx, id, availability.FlagTempUnavailable, ttl, nil)
}

// IsQuotaExceeded implements QuotaDirectory.
func (d *StoreDirectory) IsQuotaExceeded(ctx context.Context, id string) (bool, error) {
	state, err := d.tracker.Get(ctx, id, availability.FlagQuotaExceeded)
	return state.Set, err
}

// RefreshQuota implements QuotaDirectory. The flag expires on its own in the
// tracker; this reconciles the persisted status so listings stay truthful.
func (d *StoreDirectory) RefreshQuota(ctx context.Context, id string) error {
	state, err := d.tracker.Get(ctx, id, availability.FlagQuotaExceeded)
	if err != nil {
		return err
	}

	account, err := d.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil
		}
		return services.WrapInternal("failed to load account for quota refresh", err)
	}

	switch {
	case state.Set && account.Status == models.StatusActive:
		return d.repo.UpdateStatus(ctx, id, models.StatusQuotaExceeded, nil)
	case !state.Set && account.Status == models.StatusQuotaExceeded:
		return d.repo.UpdateStatus(ctx, id, models.StatusActive, nil)
	}
	return nil
}

// MarkQuotaExceeded implements QuotaDirectory.
func (d *StoreDirectory) MarkQuotaExceeded(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = d.durations.Quota
	}
	return d.tracker.Set(ctx, id, availability.FlagQuotaExceeded, ttl, nil)
}

// CurrentConcurrency implements ConcurrencyDirectory.
func (d *StoreDirectory) CurrentConcurrency(ctx context.Context, id string) (int, error) {
	return d.counter.Current(ctx, id)
}

// MarkUnauthorized implements CredentialDirectory. A dead credential makes
// the account unusable, so it is also deactivated.
func (d *StoreDirectory) MarkUnauthorized(ctx context.Context, id string) error {
	d.logger.Warn("account unauthorized",
		zap.String("account_type", string(d.accountType)),
		zap.String("account_id", id))
	inactive := false
	return d.repo.UpdateStatus(ctx, id, models.StatusUnauthorized, &inactive)
}

// MarkBlocked implements CredentialDirectory.
func (d *StoreDirectory) MarkBlocked(ctx context.Context, id string) error {
	d.logger.Warn("account blocked",
		zap.String("account_type", string(d.accountType)),
		zap.String("account_id", id))
	return d.repo.UpdateStatus(ctx, id, models.StatusBlocked, nil)
}

// MarkUsed implements UsageRecorder.
func (d *StoreDirectory) MarkUsed(ctx context.Context, id string) error {
	return d.repo.TouchLastUsed(ctx, id, time.Now().UTC().Format(time.RFC3339Nano))
}
