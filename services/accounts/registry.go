package accounts

import (
	"sync"

	"github.com/upb/llm-relay/models"
	"go.uber.org/zap"
)

// Registry holds one directory per account family and dispatches on the
// AccountType enum. Directories are registered once at wiring time; reads
// dominate, so lookups take the read lock only.
type Registry struct {
	mu     sync.RWMutex
	dirs   map[models.AccountType]Directory
	logger *zap.Logger
}

// NewRegistry creates an empty directory registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		dirs:   make(map[models.AccountType]Directory),
		logger: logger,
	}
}

// Register adds a directory, replacing any previous one of the same type.
func (r *Registry) Register(dir Directory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dirs[dir.Type()] = dir
	r.logger.Info("account directory registered", zap.String("account_type", string(dir.Type())))
}

// Get returns the directory for an account type.
func (r *Registry) Get(accountType models.AccountType) (Directory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dir, ok := r.dirs[accountType]
	return dir, ok
}

// All returns the registered directories in fixed family order.
func (r *Registry) All() []Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Directory, 0, len(r.dirs))
	for _, t := range models.AllAccountTypes {
		if dir, ok := r.dirs[t]; ok {
			out = append(out, dir)
		}
	}
	return out
}

// ProbeOrderFor returns directories ordered for group-member lookups on a
// platform: the platform's own family first, then the rest in fixed order.
func (r *Registry) ProbeOrderFor(platform models.AccountType) []Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Directory, 0, len(r.dirs))
	if dir, ok := r.dirs[platform]; ok {
		out = append(out, dir)
	}
	for _, t := range models.AllAccountTypes {
		if t == platform {
			continue
		}
		if dir, ok := r.dirs[t]; ok {
			out = append(out, dir)
		}
	}
	return out
}

// Count returns the number of registered directories.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.dirs)
}
