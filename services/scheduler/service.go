// Package scheduler implements account selection for relayed requests:
// binding resolution, model gating, sticky-session affinity, and ranked
// shared-pool selection over heterogeneous upstream account families.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services"
	"github.com/upb/llm-relay/services/accounts"
	"github.com/upb/llm-relay/services/groups"
	"github.com/upb/llm-relay/services/modelgate"
	"github.com/upb/llm-relay/services/sessions"
	"go.uber.org/zap"
)

// Config holds the scheduler's tunables.
type Config struct {
	// SessionTTL is the lifetime of a sticky-session mapping.
	SessionTTL time.Duration

	// RenewalThreshold triggers a full TTL re-apply when a validated
	// mapping's remaining TTL drops below it.
	RenewalThreshold time.Duration

	// VendorModelPrefix marks requests routed exclusively to the
	// vendor-routed account pool.
	VendorModelPrefix string
}

// DefaultConfig returns the standard scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SessionTTL:        time.Hour,
		RenewalThreshold:  15 * time.Minute,
		VendorModelPrefix: "vendor:",
	}
}

// Selection is the sole output of a successful selection.
type Selection struct {
	AccountID   string             `json:"account_id"`
	AccountType models.AccountType `json:"account_type"`
}

// SelectRequest carries everything the relay knows about one request.
type SelectRequest struct {
	APIKey             *models.APIKeyRecord
	SessionFingerprint string
	RequestedModel     string

	// ForcedAccountID pins the request to one account for protocol-level
	// session continuity. Only honored for oauth accounts; other types are
	// ignored and resolution falls through.
	ForcedAccountID   string
	ForcedAccountType models.AccountType
}

// GroupSelectRequest selects from one group's membership only.
type GroupSelectRequest struct {
	GroupID            string
	SessionFingerprint string
	RequestedModel     string

	// AllowedTypes, when non-empty, restricts member account types.
	AllowedTypes []models.AccountType

	// ExcludedIDs skips just-failed members on a retry.
	ExcludedIDs []string
}

// Service is the scheduler core.
type Service struct {
	cfg      Config
	registry *accounts.Registry
	groups   groups.Resolver
	sessions sessions.Store
	gate     *modelgate.Gate
	logger   *zap.Logger
}

// NewService creates a scheduler over the given collaborators.
func NewService(cfg Config, registry *accounts.Registry, resolver groups.Resolver, store sessions.Store, gate *modelgate.Gate, logger *zap.Logger) *Service {
	if cfg.SessionTTL == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		groups:   resolver,
		sessions: store,
		gate:     gate,
		logger:   logger,
	}
}

// SelectAccountForAPIKey resolves exactly one account for a request, in
// strict precedence order: forced binding, vendor-prefix routing, dedicated
// bindings, sticky session, ranked shared pool.
func (s *Service) SelectAccountForAPIKey(ctx context.Context, req SelectRequest) (*Selection, error) {
	if req.APIKey == nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "api key record is required", nil)
	}

	// 1. Forced binding. Only oauth enforces hard session pinning; a forced
	// binding of any other type is ignored.
	if req.ForcedAccountID != "" {
		if req.ForcedAccountType == models.AccountTypeOAuth {
			return s.resolveForced(ctx, req)
		}
		s.logger.Debug("ignoring forced binding for non-oauth account",
			zap.String("account_type", string(req.ForcedAccountType)),
			zap.String("account_id", req.ForcedAccountID))
	}

	// 2. Vendor-prefix routing: an isolated sub-pool, no cross-type fallback.
	if model, ok := s.vendorModel(req.RequestedModel); ok {
		return s.selectVendorOnly(ctx, req.SessionFingerprint, model)
	}

	// 3. Dedicated bindings in fixed family order.
	if sel, done, err := s.resolveDedicated(ctx, req); done {
		return sel, err
	}

	// 4. Sticky session.
	if req.SessionFingerprint != "" {
		if sel := s.reuseSticky(ctx, req.SessionFingerprint, req.RequestedModel, false, nil); sel != nil {
			return sel, nil
		}
	}

	// 5. Ranked shared pool.
	sel, err := s.selectFromPool(ctx, req.RequestedModel)
	if err != nil {
		return nil, err
	}
	s.establishMapping(ctx, req.SessionFingerprint, sel)
	return sel, nil
}

// SelectAccountFromGroup selects from one group's ordered membership. Groups
// never fall back to the ungrouped shared pool.
func (s *Service) SelectAccountFromGroup(ctx context.Context, req GroupSelectRequest) (*Selection, error) {
	if req.GroupID == "" {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "group id is required", nil)
	}
	model := req.RequestedModel
	if stripped, ok := s.vendorModel(model); ok {
		model = stripped
	}
	return s.selectGroup(ctx, req.GroupID, req.SessionFingerprint, model, req.AllowedTypes, req.ExcludedIDs)
}

// MarkAccountRateLimited raises the rate-limit flag and drops the session
// mapping so the next request re-selects.
func (s *Service) MarkAccountRateLimited(ctx context.Context, accountID string, accountType models.AccountType, fingerprint string, resetAt *time.Time) error {
	dir, ok := s.registry.Get(accountType)
	if !ok {
		return services.ErrInvalidAccountType
	}
	if err := dir.MarkRateLimited(ctx, accountID, resetAt); err != nil {
		return err
	}
	s.dropMapping(ctx, fingerprint)
	return nil
}

// MarkAccountTemporarilyUnavailable raises the short exclusion window after
// an upstream 5xx/401/403 and drops the session mapping.
func (s *Service) MarkAccountTemporarilyUnavailable(ctx context.Context, accountID string, accountType models.AccountType, fingerprint string, statusCode int, ttl time.Duration) error {
	dir, ok := s.registry.Get(accountType)
	if !ok {
		return services.ErrInvalidAccountType
	}
	if err := dir.MarkTemporarilyUnavailable(ctx, accountID, statusCode, ttl); err != nil {
		return err
	}
	s.dropMapping(ctx, fingerprint)
	return nil
}

// MarkAccountUnauthorized records a dead credential and drops the session
// mapping. Only directories with credential state support it.
func (s *Service) MarkAccountUnauthorized(ctx context.Context, accountID string, accountType models.AccountType, fingerprint string) error {
	dir, ok := s.registry.Get(accountType)
	if !ok {
		return services.ErrInvalidAccountType
	}
	cd, ok := dir.(accounts.CredentialDirectory)
	if !ok {
		return services.NewDomainError(services.ErrorTypeValidation, "account type does not track credential state", nil)
	}
	if err := cd.MarkUnauthorized(ctx, accountID); err != nil {
		return err
	}
	s.dropMapping(ctx, fingerprint)
	return nil
}

// MarkAccountBlocked records an upstream account block and drops the
// session mapping.
func (s *Service) MarkAccountBlocked(ctx context.Context, accountID string, accountType models.AccountType, fingerprint string) error {
	dir, ok := s.registry.Get(accountType)
	if !ok {
		return services.ErrInvalidAccountType
	}
	cd, ok := dir.(accounts.CredentialDirectory)
	if !ok {
		return services.NewDomainError(services.ErrorTypeValidation, "account type does not track credential state", nil)
	}
	if err := cd.MarkBlocked(ctx, accountID); err != nil {
		return err
	}
	s.dropMapping(ctx, fingerprint)
	return nil
}

// MarkAccountUsed updates the rotation key after a completed upstream call.
func (s *Service) MarkAccountUsed(ctx context.Context, accountID string, accountType models.AccountType) error {
	dir, ok := s.registry.Get(accountType)
	if !ok {
		return services.ErrInvalidAccountType
	}
	recorder, ok := dir.(accounts.UsageRecorder)
	if !ok {
		return nil
	}
	return recorder.MarkUsed(ctx, accountID)
}

// ClearSessionMapping removes a sticky mapping. Clearing an absent
// fingerprint is a no-op.
func (s *Service) ClearSessionMapping(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return nil
	}
	return s.sessions.Delete(ctx, fingerprint)
}

// vendorModel strips the vendor routing prefix, reporting whether the
// request targets the vendor pool.
func (s *Service) vendorModel(requestedModel string) (string, bool) {
	if s.cfg.VendorModelPrefix == "" {
		return requestedModel, false
	}
	if stripped, ok := strings.CutPrefix(requestedModel, s.cfg.VendorModelPrefix); ok {
		return stripped, true
	}
	return requestedModel, false
}

// establishMapping writes a fresh sticky mapping after a pool or group
// selection. A missing fingerprint means the request is not part of a
// multi-turn conversation.
func (s *Service) establishMapping(ctx context.Context, fingerprint string, sel *Selection) {
	if fingerprint == "" || sel == nil {
		return
	}
	mapping := sessions.Mapping{AccountID: sel.AccountID, AccountType: sel.AccountType}
	if err := s.sessions.Set(ctx, fingerprint, mapping, s.cfg.SessionTTL); err != nil {
		// Affinity is best-effort; selection already succeeded.
		s.logger.Warn("failed to write session mapping", zap.Error(err))
	}
}

// dropMapping deletes a sticky mapping after an availability mark.
func (s *Service) dropMapping(ctx context.Context, fingerprint string) {
	if fingerprint == "" {
		return
	}
	if err := s.sessions.Delete(ctx, fingerprint); err != nil {
		s.logger.Warn("failed to delete session mapping", zap.Error(err))
	}
}
