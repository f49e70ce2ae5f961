package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/repositories"
	"go.uber.org/zap"
)

// AccountRepository implements the repositories.AccountRepository interface
type AccountRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB, logger *zap.Logger) repositories.AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger,
	}
}

const accountColumns = `id, account_type, name, is_active, schedulable, status, pool_kind,
		priority, last_used_at, supported_models, subscription, max_concurrent_tasks,
		created_at, updated_at`

// Create creates a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	supportedModels, err := marshalJSONB(account.SupportedModels)
	if err != nil {
		return fmt.Errorf("failed to encode supported models: %w", err)
	}
	subscription, err := marshalJSONB(account.Subscription)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	executor := GetExecutor(ctx, r.db)
	_, err = executor.ExecContext(ctx, query,
		account.ID,
		account.Type,
		account.Name,
		account.IsActive,
		account.Schedulable,
		account.Status,
		account.PoolKind,
		account.Priority,
		account.LastUsedAt,
		supportedModels,
		subscription,
		account.MaxConcurrentTasks,
		account.CreatedAt,
		account.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.logger.Debug("account created",
		zap.String("id", account.ID),
		zap.String("account_type", string(account.Type)))
	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	account, err := scanAccount(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// ListByType retrieves all accounts of one family
func (r *AccountRepository) ListByType(ctx context.Context, accountType models.AccountType) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE account_type = $1
		ORDER BY priority ASC, last_used_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, accountType)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

// Update updates an existing account
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) error {
	query := `
		UPDATE accounts
		SET name = $2, is_active = $3, schedulable = $4, status = $5, pool_kind = $6,
			priority = $7, last_used_at = $8, supported_models = $9, subscription = $10,
			max_concurrent_tasks = $11, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	supportedModels, err := marshalJSONB(account.SupportedModels)
	if err != nil {
		return fmt.Errorf("failed to encode supported models: %w", err)
	}
	subscription, err := marshalJSONB(account.Subscription)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query,
		account.ID,
		account.Name,
		account.IsActive,
		account.Schedulable,
		account.Status,
		account.PoolKind,
		account.Priority,
		account.LastUsedAt,
		supportedModels,
		subscription,
		account.MaxConcurrentTasks,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	return requireRowAffected(result)
}

// UpdateStatus changes the lifecycle status; a non-nil isActive also flips
// the active flag in the same statement.
func (r *AccountRepository) UpdateStatus(ctx context.Context, id string, status models.AccountStatus, isActive *bool) error {
	executor := GetExecutor(ctx, r.db)

	var (
		result sql.Result
		err    error
	)
	if isActive != nil {
		query := `
			UPDATE accounts
			SET status = $2, is_active = $3, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1
		`
		result, err = executor.ExecContext(ctx, query, id, status, *isActive)
	} else {
		query := `
			UPDATE accounts
			SET status = $2, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1
		`
		result, err = executor.ExecContext(ctx, query, id, status)
	}
	if err != nil {
		return fmt.Errorf("failed to update account status: %w", err)
	}

	return requireRowAffected(result)
}

// TouchLastUsed updates the rotation key after a completed request
func (r *AccountRepository) TouchLastUsed(ctx context.Context, id string, lastUsedAt string) error {
	query := `
		UPDATE accounts
		SET last_used_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, lastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to touch account: %w", err)
	}

	return requireRowAffected(result)
}

// Delete deletes an account
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM accounts WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	return requireRowAffected(result)
}

// scanner matches both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanAccount scans one account row, decoding the JSONB columns
func scanAccount(row scanner) (*models.Account, error) {
	account := &models.Account{}
	var supportedModels, subscription []byte

	err := row.Scan(
		&account.ID,
		&account.Type,
		&account.Name,
		&account.IsActive,
		&account.Schedulable,
		&account.Status,
		&account.PoolKind,
		&account.Priority,
		&account.LastUsedAt,
		&supportedModels,
		&subscription,
		&account.MaxConcurrentTasks,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(supportedModels) > 0 {
		if err := json.Unmarshal(supportedModels, &account.SupportedModels); err != nil {
			return nil, fmt.Errorf("failed to decode supported models: %w", err)
		}
	}
	if len(subscription) > 0 {
		info := &models.SubscriptionInfo{}
		if err := json.Unmarshal(subscription, info); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		account.Subscription = info
	}

	return account, nil
}

// marshalJSONB encodes a value for a nullable JSONB column. Nil and empty
// values store as NULL.
func marshalJSONB(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case models.ModelList:
		if len(val) == 0 {
			return nil, nil
		}
	case *models.SubscriptionInfo:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// requireRowAffected converts a zero-row update into ErrNotFound
func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return repositories.ErrNotFound
	}
	return nil
}
