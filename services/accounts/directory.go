// Package accounts defines the uniform directory contract every provider
// family exposes to the scheduler, plus the registry that dispatches on
// account type.
package accounts

import (
	"context"
	"time"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services/availability"
)

// Directory is the uniform per-family account directory. The scheduler
// reads descriptors and availability flags through it and reports upstream
// failures back through the mark methods.
type Directory interface {
	// Type returns the account family this directory serves.
	Type() models.AccountType

	// GetAccount returns the descriptor, or services.ErrAccountNotFound.
	GetAccount(ctx context.Context, id string) (*models.Account, error)

	// ListAccounts returns every account in the family.
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	// RateLimitState returns the time-boxed rate-limit flag, including the
	// upstream reset time when one was reported.
	RateLimitState(ctx context.Context, id string) (availability.FlagState, error)

	// MarkRateLimited raises the rate-limit flag. A nil resetAt uses the
	// family's default duration.
	MarkRateLimited(ctx context.Context, id string, resetAt *time.Time) error

	// ClearRateLimit lowers the rate-limit flag.
	ClearRateLimit(ctx context.Context, id string) error

	// IsTemporarilyUnavailable reports the short exclusion window applied
	// after an upstream 5xx/401/403.
	IsTemporarilyUnavailable(ctx context.Context, id string) (bool, error)

	// MarkTemporarilyUnavailable raises the exclusion window.
	MarkTemporarilyUnavailable(ctx context.Context, id string, statusCode int, ttl time.Duration) error
}

// QuotaDirectory is implemented by console and vendor-routed directories.
type QuotaDirectory interface {
	// IsQuotaExceeded reports the quota flag.
	IsQuotaExceeded(ctx context.Context, id string) (bool, error)

	// RefreshQuota reconciles the stored account status with the live
	// quota flag before a check.
	RefreshQuota(ctx context.Context, id string) error

	// MarkQuotaExceeded raises the quota flag for ttl.
	MarkQuotaExceeded(ctx context.Context, id string, ttl time.Duration) error
}

// ConcurrencyDirectory is implemented by the console directory.
type ConcurrencyDirectory interface {
	// CurrentConcurrency returns the in-flight request count. This is a
	// read-only pre-check; atomic admission belongs to the relay layer.
	CurrentConcurrency(ctx context.Context, id string) (int, error)
}

// CredentialDirectory is implemented by the oauth directory.
type CredentialDirectory interface {
	// MarkUnauthorized records a dead credential and deactivates the account.
	MarkUnauthorized(ctx context.Context, id string) error

	// MarkBlocked records an upstream account block.
	MarkBlocked(ctx context.Context, id string) error
}

// UsageRecorder lets the relay layer update the rotation key after a
// completed upstream call.
type UsageRecorder interface {
	MarkUsed(ctx context.Context, id string) error
}
