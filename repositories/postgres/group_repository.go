package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/repositories"
	"go.uber.org/zap"
)

// GroupRepository implements the repositories.GroupRepository interface
type GroupRepository struct {
	db     *DB
	tm     repositories.TransactionManager
	logger *zap.Logger
}

// NewGroupRepository creates a new group repository
func NewGroupRepository(db *DB, tm repositories.TransactionManager, logger *zap.Logger) repositories.GroupRepository {
	return &GroupRepository{
		db:     db,
		tm:     tm,
		logger: logger,
	}
}

// Create creates a group and its initial membership atomically
func (r *GroupRepository) Create(ctx context.Context, group *models.AccountGroup) error {
	return r.tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		query := `
			INSERT INTO account_groups (id, name, platform, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`

		executor := GetExecutor(txCtx, r.db)
		_, err := executor.ExecContext(txCtx, query,
			group.ID,
			group.Name,
			group.Platform,
			group.CreatedAt,
			group.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create group: %w", err)
		}

		if err := r.insertMembers(txCtx, group.ID, group.Members); err != nil {
			return err
		}

		r.logger.Debug("group created",
			zap.String("id", group.ID),
			zap.Int("members", len(group.Members)))
		return nil
	})
}

// GetByID retrieves a group with its ordered membership
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.AccountGroup, error) {
	query := `
		SELECT id, name, platform, created_at, updated_at
		FROM account_groups
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	group := &models.AccountGroup{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&group.ID,
		&group.Name,
		&group.Platform,
		&group.CreatedAt,
		&group.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	members, err := r.queryMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	group.Members = members

	return group, nil
}

// List retrieves all groups with their memberships
func (r *GroupRepository) List(ctx context.Context) ([]*models.AccountGroup, error) {
	query := `
		SELECT id, name, platform, created_at, updated_at
		FROM account_groups
		ORDER BY created_at ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.AccountGroup
	for rows.Next() {
		group := &models.AccountGroup{}
		err := rows.Scan(
			&group.ID,
			&group.Name,
			&group.Platform,
			&group.CreatedAt,
			&group.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	for _, group := range groups {
		members, err := r.queryMembers(ctx, group.ID)
		if err != nil {
			return nil, err
		}
		group.Members = members
	}

	return groups, nil
}

// Members returns the ordered member account ids
func (r *GroupRepository) Members(ctx context.Context, id string) ([]string, error) {
	if err := r.requireGroup(ctx, id); err != nil {
		return nil, err
	}
	return r.queryMembers(ctx, id)
}

// SetMembers replaces the membership atomically, preserving the given order
func (r *GroupRepository) SetMembers(ctx context.Context, id string, members []string) error {
	if err := r.requireGroup(ctx, id); err != nil {
		return err
	}

	return r.tm.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		executor := GetExecutor(txCtx, r.db)
		if _, err := executor.ExecContext(txCtx, `DELETE FROM account_group_members WHERE group_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear group members: %w", err)
		}
		return r.insertMembers(txCtx, id, members)
	})
}

// Delete deletes a group; membership rows cascade
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM account_groups WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	return requireRowAffected(result)
}

// requireGroup verifies the group row exists
func (r *GroupRepository) requireGroup(ctx context.Context, id string) error {
	query := `SELECT 1 FROM account_groups WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	var one int
	if err := executor.QueryRowContext(ctx, query, id).Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return repositories.ErrNotFound
		}
		return fmt.Errorf("failed to check group: %w", err)
	}
	return nil
}

// queryMembers loads the ordered membership for one group
func (r *GroupRepository) queryMembers(ctx context.Context, id string) ([]string, error) {
	query := `
		SELECT account_id
		FROM account_group_members
		WHERE group_id = $1
		ORDER BY position ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var accountID string
		if err := rows.Scan(&accountID); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, accountID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}

	return members, nil
}

// insertMembers writes membership rows with their positions
func (r *GroupRepository) insertMembers(ctx context.Context, groupID string, members []string) error {
	if len(members) == 0 {
		return nil
	}

	query := `
		INSERT INTO account_group_members (group_id, account_id, position)
		VALUES ($1, $2, $3)
	`

	executor := GetExecutor(ctx, r.db)
	for position, accountID := range members {
		if _, err := executor.ExecContext(ctx, query, groupID, accountID, position); err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
	}
	return nil
}
