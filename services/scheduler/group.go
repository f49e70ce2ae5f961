package scheduler

import (
	"context"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services"
	"github.com/upb/llm-relay/services/accounts"
	"go.uber.org/zap"
)

// selectGroup resolves a group reference: ordered membership, directory
// probing per member, an optional account-type allow-list, and an optional
// exclusion set for just-failed members, then the same per-candidate checks
// and ranking as the shared pool. Groups never fall back to the ungrouped
// pool; an empty membership or zero survivors is a typed error.
func (s *Service) selectGroup(ctx context.Context, groupID, fingerprint, model string, allowedTypes []models.AccountType, excludedIDs []string) (*Selection, error) {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	memberIDs, err := s.groups.GetGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return nil, groupEmpty(groupID)
	}

	excluded := make(map[string]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}

	memberSet := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		if _, skip := excluded[id]; skip {
			continue
		}
		memberSet[id] = struct{}{}
	}

	// Sticky reuse is restricted to the group's own membership, minus the
	// caller's exclusions: a mapping to a just-failed member must not short
	// circuit the retry.
	if fingerprint != "" {
		if sel := s.reuseSticky(ctx, fingerprint, model, false, memberSet); sel != nil {
			return sel, nil
		}
	}
	allowed := make(map[models.AccountType]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}

	// Probe the group's own platform family first.
	dirs := s.registry.ProbeOrderFor(models.AccountType(group.Platform))

	var cands []candidate
	for _, id := range memberIDs {
		if _, skip := excluded[id]; skip {
			continue
		}
		c, found := probeDirectories(ctx, dirs, id)
		if !found {
			// A vanished member must not take the whole group down.
			s.logger.Warn("group member not found in any directory",
				zap.String("group_id", groupID),
				zap.String("account_id", id))
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[c.account.Type]; !ok {
				continue
			}
		}
		cands = append(cands, c)
	}

	eligible, _, err := s.rankEligible(ctx, cands, model)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, groupEmpty(groupID)
	}

	head := eligible[0].account
	sel := &Selection{AccountID: head.ID, AccountType: head.Type}
	s.establishMapping(ctx, fingerprint, sel)
	return sel, nil
}

func groupEmpty(groupID string) *services.DomainError {
	return services.NewDomainError(services.ErrorTypeGroupEmpty, "group has no eligible accounts", nil).
		WithDetail("group_id", groupID)
}

// probeDirectories asks each directory in order for the member id, returning
// the first that answers. Group members may live in any family.
func probeDirectories(ctx context.Context, dirs []accounts.Directory, id string) (candidate, bool) {
	for _, dir := range dirs {
		account, err := dir.GetAccount(ctx, id)
		if err == nil {
			return candidate{account: account, dir: dir}, true
		}
	}
	return candidate{}, false
}
