// Package groups resolves named account groups to their ordered membership.
package groups

import (
	"context"
	"errors"
	"sync"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/repositories"
	"github.com/upb/llm-relay/services"
)

// Resolver looks up groups and their ordered members.
type Resolver interface {
	// GetGroup returns the group, or services.ErrGroupNotFound.
	GetGroup(ctx context.Context, id string) (*models.AccountGroup, error)

	// GetGroupMembers returns the ordered member account ids.
	GetGroupMembers(ctx context.Context, id string) ([]string, error)
}

// StoreResolver is the repository-backed Resolver.
type StoreResolver struct {
	repo repositories.GroupRepository
}

// NewStoreResolver creates a repository-backed resolver.
func NewStoreResolver(repo repositories.GroupRepository) *StoreResolver {
	return &StoreResolver{repo: repo}
}

// GetGroup implements Resolver.
func (r *StoreResolver) GetGroup(ctx context.Context, id string) (*models.AccountGroup, error) {
	group, err := r.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrGroupNotFound
		}
		return nil, services.WrapInternal("failed to load group", err)
	}
	return group, nil
}

// GetGroupMembers implements Resolver.
func (r *StoreResolver) GetGroupMembers(ctx context.Context, id string) ([]string, error) {
	members, err := r.repo.Members(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrGroupNotFound
		}
		return nil, services.WrapInternal("failed to load group members", err)
	}
	return members, nil
}

// MemoryResolver is an in-memory Resolver for tests.
type MemoryResolver struct {
	mu     sync.RWMutex
	groups map[string]*models.AccountGroup
}

// NewMemoryResolver creates an empty in-memory resolver.
func NewMemoryResolver() *MemoryResolver {
	return &MemoryResolver{groups: make(map[string]*models.AccountGroup)}
}

// Put inserts or replaces a group.
func (r *MemoryResolver) Put(group *models.AccountGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group.ID] = group
}

// GetGroup implements Resolver.
func (r *MemoryResolver) GetGroup(_ context.Context, id string) (*models.AccountGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[id]
	if !ok {
		return nil, services.ErrGroupNotFound
	}
	copied := *group
	return &copied, nil
}

// GetGroupMembers implements Resolver.
func (r *MemoryResolver) GetGroupMembers(_ context.Context, id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[id]
	if !ok {
		return nil, services.ErrGroupNotFound
	}
	members := make([]string, len(group.Members))
	copy(members, group.Members)
	return members, nil
}
