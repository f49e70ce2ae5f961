package scheduler

import (
	"context"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services"
	"go.uber.org/zap"
)

// resolveForced validates a caller-pinned oauth account. There is no
// fallback: any failure surfaces as a forced-binding error so the caller can
// retry or break protocol-level session continuity explicitly.
func (s *Service) resolveForced(ctx context.Context, req SelectRequest) (*Selection, error) {
	dir, ok := s.registry.Get(models.AccountTypeOAuth)
	if !ok {
		return nil, forcedUnavailable(req.ForcedAccountID, "oauth directory not registered")
	}

	account, err := dir.GetAccount(ctx, req.ForcedAccountID)
	if err != nil {
		if services.IsNotFoundError(err) {
			return nil, forcedUnavailable(req.ForcedAccountID, "account not found")
		}
		return nil, err
	}

	reason, err := s.checkAccount(ctx, candidate{account: account, dir: dir}, req.RequestedModel)
	if err != nil {
		return nil, err
	}
	if reason != rejectNone {
		s.logger.Warn("forced-binding account unavailable",
			zap.String("account_id", account.ID),
			zap.String("reason", reason.String()))
		return nil, forcedUnavailable(account.ID, reason.String())
	}

	return &Selection{AccountID: account.ID, AccountType: account.Type}, nil
}

func forcedUnavailable(accountID, reason string) *services.DomainError {
	return services.NewDomainError(services.ErrorTypeForcedBinding, "forced-binding account unavailable", nil).
		WithDetail(services.DetailAccountID, accountID).
		WithDetail("reason", reason)
}

// resolveDedicated walks the key's populated bindings in fixed family order.
// done=false means no binding produced a terminal outcome and resolution
// continues with the sticky-session and pool steps.
//
// A direct reference that fails availability falls through to the NEXT bound
// family, never to the pool. Two cases are terminal instead: a rate-limited
// dedicated oauth account (the request must not leak to a different billing
// tier), and a dangling direct reference (a configuration fault, not an
// availability condition). Group references are always terminal; their typed
// errors surface as-is.
func (s *Service) resolveDedicated(ctx context.Context, req SelectRequest) (*Selection, bool, error) {
	for _, bound := range req.APIKey.DedicatedBindings() {
		if bound.Binding.Kind == models.BindingGroup {
			sel, err := s.selectGroup(ctx, bound.Binding.Ref, req.SessionFingerprint, req.RequestedModel, nil, nil)
			return sel, true, err
		}

		dir, ok := s.registry.Get(bound.Type)
		if !ok {
			s.logger.Warn("binding references unregistered account family",
				zap.String("account_type", string(bound.Type)))
			continue
		}

		account, err := dir.GetAccount(ctx, bound.Binding.Ref)
		if err != nil {
			if services.IsNotFoundError(err) {
				notFound := services.NewDomainError(services.ErrorTypeNotFound, "dedicated account not found", nil).
					WithDetail(services.DetailAccountID, bound.Binding.Ref)
				return nil, true, notFound
			}
			return nil, true, err
		}

		reason, err := s.checkAccount(ctx, candidate{account: account, dir: dir}, req.RequestedModel)
		if err != nil {
			return nil, true, err
		}

		switch {
		case reason == rejectNone:
			return &Selection{AccountID: account.ID, AccountType: account.Type}, true, nil

		case reason == rejectRateLimited && bound.Type == models.AccountTypeOAuth:
			state, err := dir.RateLimitState(ctx, account.ID)
			if err != nil {
				return nil, true, err
			}
			return nil, true, services.RateLimitedWithReset(account.ID, state.ResetAt)

		default:
			s.logger.Debug("dedicated binding unavailable, trying next family",
				zap.String("account_type", string(bound.Type)),
				zap.String("account_id", account.ID),
				zap.String("reason", reason.String()))
		}
	}
	return nil, false, nil
}
