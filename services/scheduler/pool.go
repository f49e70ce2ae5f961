package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services"
	"github.com/upb/llm-relay/services/accounts"
	"go.uber.org/zap"
)

// rejectReason classifies why a candidate was excluded from selection.
type rejectReason int

const (
	rejectNone rejectReason = iota
	rejectModel
	rejectInactive
	rejectUnschedulable
	rejectStatus
	rejectTempUnavailable
	rejectRateLimited
	rejectQuotaExceeded
	rejectConcurrency
)

func (r rejectReason) String() string {
	switch r {
	case rejectNone:
		return "none"
	case rejectModel:
		return "model_unsupported"
	case rejectInactive:
		return "inactive"
	case rejectUnschedulable:
		return "unschedulable"
	case rejectStatus:
		return "disqualifying_status"
	case rejectTempUnavailable:
		return "temporarily_unavailable"
	case rejectRateLimited:
		return "rate_limited"
	case rejectQuotaExceeded:
		return "quota_exceeded"
	case rejectConcurrency:
		return "concurrency_limit"
	}
	return "unknown"
}

// candidate pairs an account descriptor with the directory that owns it.
type candidate struct {
	account *models.Account
	dir     accounts.Directory
}

// rejectTally counts console rejections so the pool can tell saturation
// apart from exhaustion.
type rejectTally struct {
	consoleConcurrency int
	consoleOther       int
}

// checkCandidate applies the model gate and the state-check chain, in order,
// short-circuiting on the first failure. Active, schedulable, and status are
// checked independently, never inferred from each other. Concurrency
// admission is separate because the pool batches it.
func (s *Service) checkCandidate(ctx context.Context, c candidate, model string) (rejectReason, error) {
	acct := c.account
	if !s.gate.Supports(acct, model) {
		return rejectModel, nil
	}
	if !acct.IsActive {
		return rejectInactive, nil
	}
	if !acct.Schedulable {
		return rejectUnschedulable, nil
	}
	if acct.Status.Disqualifying() {
		return rejectStatus, nil
	}

	unavailable, err := c.dir.IsTemporarilyUnavailable(ctx, acct.ID)
	if err != nil {
		return rejectNone, err
	}
	if unavailable {
		return rejectTempUnavailable, nil
	}

	state, err := c.dir.RateLimitState(ctx, acct.ID)
	if err != nil {
		return rejectNone, err
	}
	if state.Set {
		return rejectRateLimited, nil
	}

	// Quota applies to console and vendor accounts only, refreshed before
	// the read so an expired window clears itself.
	if acct.Type == models.AccountTypeConsole || acct.Type == models.AccountTypeVendor {
		if qd, ok := c.dir.(accounts.QuotaDirectory); ok {
			if err := qd.RefreshQuota(ctx, acct.ID); err != nil {
				return rejectNone, err
			}
			exceeded, err := qd.IsQuotaExceeded(ctx, acct.ID)
			if err != nil {
				return rejectNone, err
			}
			if exceeded {
				return rejectQuotaExceeded, nil
			}
		}
	}

	return rejectNone, nil
}

// checkConcurrency applies the console-only admission pre-check. The read is
// deliberately non-atomic; the relay layer does the race-free reservation
// when the upstream call starts.
func (s *Service) checkConcurrency(ctx context.Context, c candidate) (rejectReason, error) {
	acct := c.account
	if acct.Type != models.AccountTypeConsole || acct.MaxConcurrentTasks <= 0 {
		return rejectNone, nil
	}
	cd, ok := c.dir.(accounts.ConcurrencyDirectory)
	if !ok {
		return rejectNone, nil
	}
	current, err := cd.CurrentConcurrency(ctx, acct.ID)
	if err != nil {
		return rejectNone, err
	}
	if current >= acct.MaxConcurrentTasks {
		return rejectConcurrency, nil
	}
	return rejectNone, nil
}

// checkAccount runs the full chain for one account, concurrency included.
// Used for single-account paths (forced, dedicated, sticky).
func (s *Service) checkAccount(ctx context.Context, c candidate, model string) (rejectReason, error) {
	reason, err := s.checkCandidate(ctx, c, model)
	if err != nil || reason != rejectNone {
		return reason, err
	}
	return s.checkConcurrency(ctx, c)
}

// rankEligible filters candidates through the full check chain, batching the
// console concurrency pre-check as one parallel fan-out instead of
// sequential per-account queries, and sorts survivors by priority ascending
// with lastUsedAt ascending as the tie-break. The sort produces a weighted
// round-robin effect without explicit rotation state.
func (s *Service) rankEligible(ctx context.Context, cands []candidate, model string) ([]candidate, rejectTally, error) {
	var (
		tally    rejectTally
		eligible []candidate
		deferred []candidate
	)

	for _, c := range cands {
		reason, err := s.checkCandidate(ctx, c, model)
		if err != nil {
			return nil, tally, err
		}
		if reason != rejectNone {
			if c.account.Type == models.AccountTypeConsole {
				tally.consoleOther++
			}
			s.logger.Debug("candidate rejected",
				zap.String("account_id", c.account.ID),
				zap.String("account_type", string(c.account.Type)),
				zap.String("reason", reason.String()))
			continue
		}
		if c.account.Type == models.AccountTypeConsole && c.account.MaxConcurrentTasks > 0 {
			deferred = append(deferred, c)
			continue
		}
		eligible = append(eligible, c)
	}

	if len(deferred) > 0 {
		reasons := make([]rejectReason, len(deferred))
		errs := make([]error, len(deferred))

		var wg sync.WaitGroup
		for i := range deferred {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				reasons[i], errs[i] = s.checkConcurrency(ctx, deferred[i])
			}(i)
		}
		wg.Wait()

		for i, c := range deferred {
			if errs[i] != nil {
				return nil, tally, errs[i]
			}
			if reasons[i] == rejectConcurrency {
				tally.consoleConcurrency++
				s.logger.Debug("candidate rejected",
					zap.String("account_id", c.account.ID),
					zap.String("account_type", string(c.account.Type)),
					zap.String("reason", reasons[i].String()))
				continue
			}
			eligible = append(eligible, c)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].account, eligible[j].account
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if au, bu := a.LastUsedUnix(), b.LastUsedUnix(); au != bu {
			return au < bu
		}
		// Full tie: pick by ID so the winner does not depend on
		// directory listing order.
		return a.ID < b.ID
	})

	return eligible, tally, nil
}

// gatherShared lists shared-pool accounts from the given directories.
// Dedicated accounts are reachable only through an explicit binding.
func gatherShared(ctx context.Context, dirs []accounts.Directory) ([]candidate, error) {
	var out []candidate
	for _, dir := range dirs {
		list, err := dir.ListAccounts(ctx)
		if err != nil {
			return nil, err
		}
		for _, acct := range list {
			if acct.PoolKind != models.PoolShared {
				continue
			}
			out = append(out, candidate{account: acct, dir: dir})
		}
	}
	return out, nil
}

// selectFromPool runs ranked selection over every family except vendor,
// whose pool is reachable through the model prefix only.
func (s *Service) selectFromPool(ctx context.Context, model string) (*Selection, error) {
	var dirs []accounts.Directory
	for _, dir := range s.registry.All() {
		if dir.Type() == models.AccountTypeVendor {
			continue
		}
		dirs = append(dirs, dir)
	}
	return s.pickRanked(ctx, dirs, model)
}

// selectVendorOnly restricts selection to the vendor pool for both sticky
// validation and gathering. No other family is consulted, even when the
// vendor pool is empty.
func (s *Service) selectVendorOnly(ctx context.Context, fingerprint, model string) (*Selection, error) {
	if fingerprint != "" {
		if sel := s.reuseSticky(ctx, fingerprint, model, true, nil); sel != nil {
			return sel, nil
		}
	}

	dir, ok := s.registry.Get(models.AccountTypeVendor)
	if !ok {
		return nil, services.ErrNoEligibleAccount
	}
	sel, err := s.pickRanked(ctx, []accounts.Directory{dir}, model)
	if err != nil {
		return nil, err
	}
	s.establishMapping(ctx, fingerprint, sel)
	return sel, nil
}

// pickRanked gathers, ranks, and returns the head of the eligible set. An
// empty set distinguishes saturation (every rejected console candidate
// failed only the concurrency pre-check) from generic exhaustion, because
// the former is worth an immediate retry and the latter is not.
func (s *Service) pickRanked(ctx context.Context, dirs []accounts.Directory, model string) (*Selection, error) {
	cands, err := gatherShared(ctx, dirs)
	if err != nil {
		return nil, err
	}

	eligible, tally, err := s.rankEligible(ctx, cands, model)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		if tally.consoleConcurrency > 0 && tally.consoleOther == 0 {
			return nil, services.ErrPoolConcurrencySaturated
		}
		return nil, services.ErrNoEligibleAccount
	}

	head := eligible[0].account
	s.logger.Debug("pool selection",
		zap.String("account_id", head.ID),
		zap.String("account_type", string(head.Type)),
		zap.Int("eligible", len(eligible)))
	return &Selection{AccountID: head.ID, AccountType: head.Type}, nil
}
