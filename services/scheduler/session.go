package scheduler

import (
	"context"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services"
	"go.uber.org/zap"
)

// reuseSticky looks up and re-validates a sticky mapping, returning nil on
// any miss. A mapping whose account no longer passes the gate and state
// checks is deleted so the follow-up selection starts clean; a mapping that
// is merely out of scope for the current path (wrong pool, not a group
// member) is left alone and overwritten by the next successful selection.
//
// Affinity is an optimization: store and directory failures degrade to a
// fresh selection instead of failing the request.
func (s *Service) reuseSticky(ctx context.Context, fingerprint, model string, vendorOnly bool, members map[string]struct{}) *Selection {
	mapping, err := s.sessions.Get(ctx, fingerprint)
	if err != nil {
		s.logger.Warn("session lookup failed", zap.Error(err))
		return nil
	}
	if mapping == nil {
		return nil
	}

	// Vendor isolation cuts both ways: a vendor mapping must not serve an
	// unprefixed request, and a vendor-prefixed request reuses vendor
	// accounts only.
	if !vendorOnly && mapping.AccountType == models.AccountTypeVendor {
		s.dropMapping(ctx, fingerprint)
		return nil
	}
	if vendorOnly && mapping.AccountType != models.AccountTypeVendor {
		return nil
	}
	if members != nil {
		if _, ok := members[mapping.AccountID]; !ok {
			return nil
		}
	}

	dir, ok := s.registry.Get(mapping.AccountType)
	if !ok {
		s.dropMapping(ctx, fingerprint)
		return nil
	}
	account, err := dir.GetAccount(ctx, mapping.AccountID)
	if err != nil {
		if services.IsNotFoundError(err) {
			s.dropMapping(ctx, fingerprint)
		} else {
			s.logger.Warn("session account lookup failed", zap.Error(err))
		}
		return nil
	}

	reason, err := s.checkAccount(ctx, candidate{account: account, dir: dir}, model)
	if err != nil {
		s.logger.Warn("session account validation failed", zap.Error(err))
		return nil
	}
	if reason != rejectNone {
		s.logger.Debug("session mapping invalidated",
			zap.String("account_id", mapping.AccountID),
			zap.String("reason", reason.String()))
		s.dropMapping(ctx, fingerprint)
		return nil
	}

	s.renewMapping(ctx, fingerprint)
	return &Selection{AccountID: account.ID, AccountType: account.Type}
}

// renewMapping re-applies the full TTL only when the remaining TTL has
// dropped below the renewal threshold; otherwise the mapping is left alone.
// A lost renewal race is harmless because both writers apply the same TTL.
func (s *Service) renewMapping(ctx context.Context, fingerprint string) {
	remaining, err := s.sessions.TTLRemaining(ctx, fingerprint)
	if err != nil {
		s.logger.Warn("session ttl lookup failed", zap.Error(err))
		return
	}
	if remaining <= 0 || remaining >= s.cfg.RenewalThreshold {
		return
	}
	if err := s.sessions.Extend(ctx, fingerprint, s.cfg.SessionTTL); err != nil {
		s.logger.Warn("session renewal failed", zap.Error(err))
	}
}
