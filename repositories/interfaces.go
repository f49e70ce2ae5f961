package repositories

import (
	"context"
	"errors"

	"github.com/upb/llm-relay/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AccountRepository persists account descriptors for one or more families.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id string) (*models.Account, error)
	ListByType(ctx context.Context, accountType models.AccountType) ([]*models.Account, error)
	Update(ctx context.Context, account *models.Account) error

	// UpdateStatus changes the lifecycle status; a non-nil isActive also
	// flips the active flag in the same statement.
	UpdateStatus(ctx context.Context, id string, status models.AccountStatus, isActive *bool) error

	// TouchLastUsed updates the rotation key after a completed request.
	TouchLastUsed(ctx context.Context, id string, lastUsedAt string) error

	Delete(ctx context.Context, id string) error
}

// Transaction represents one database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// TransactionManager begins transactions and runs functions within them.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes fn inside a transaction, committing on success
	// and rolling back on error.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// GroupRepository persists account groups and their ordered membership.
type GroupRepository interface {
	Create(ctx context.Context, group *models.AccountGroup) error
	GetByID(ctx context.Context, id string) (*models.AccountGroup, error)
	List(ctx context.Context) ([]*models.AccountGroup, error)

	// Members returns the ordered member account ids.
	Members(ctx context.Context, id string) ([]string, error)

	// SetMembers replaces the membership, preserving the given order.
	SetMembers(ctx context.Context, id string, members []string) error

	Delete(ctx context.Context, id string) error
}
