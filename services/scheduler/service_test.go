package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-relay/models"
	"github.com/upb/llm-relay/services"
	"github.com/upb/llm-relay/services/accounts"
	"github.com/upb/llm-relay/services/groups"
	"github.com/upb/llm-relay/services/modelgate"
	"github.com/upb/llm-relay/services/sessions"
	"go.uber.org/zap"
)

type fixture struct {
	svc      *Service
	dirs     map[models.AccountType]*accounts.MemoryDirectory
	sessions *sessions.MemoryStore
	groups   *groups.MemoryResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zap.NewNop()
	registry := accounts.NewRegistry(logger)

	dirs := make(map[models.AccountType]*accounts.MemoryDirectory)
	for _, accountType := range models.AllAccountTypes {
		dir := accounts.NewMemoryDirectory(accountType, nil, nil)
		dirs[accountType] = dir
		registry.Register(dir)
	}

	store := sessions.NewMemoryStore()
	resolver := groups.NewMemoryResolver()
	gate := modelgate.NewGate(modelgate.DefaultGateConfig())

	return &fixture{
		svc:      NewService(DefaultConfig(), registry, resolver, store, gate, logger),
		dirs:     dirs,
		sessions: store,
		groups:   resolver,
	}
}

func (f *fixture) addShared(id string, accountType models.AccountType, priority int) *models.Account {
	account := models.NewAccount(accountType, id)
	account.ID = id
	account.Priority = priority
	f.dirs[accountType].Put(account)
	return account
}

func (f *fixture) addDedicated(id string, accountType models.AccountType) *models.Account {
	account := models.NewAccount(accountType, id)
	account.ID = id
	account.PoolKind = models.PoolDedicated
	f.dirs[accountType].Put(account)
	return account
}

func plainKey() *models.APIKeyRecord {
	return &models.APIKeyRecord{ID: "key-1", Name: "test key"}
}

func TestSelectAccountForAPIKey_PoolRanking(t *testing.T) {
	ctx := context.Background()

	t.Run("lowest priority wins", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("x1", models.AccountTypeOAuth, 50)
		f.addShared("x2", models.AccountTypeOAuth, 10)

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "x2", sel.AccountID)
		assert.Equal(t, models.AccountTypeOAuth, sel.AccountType)
	})

	t.Run("priority tie broken by last used, never-used first", func(t *testing.T) {
		f := newFixture(t)
		recent := f.addShared("recent", models.AccountTypeOAuth, 10)
		recent.LastUsedAt = time.Now().UTC().Format(time.RFC3339Nano)
		f.addShared("fresh", models.AccountTypeOAuth, 10)

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "fresh", sel.AccountID)
	})

	t.Run("full tie broken by id, independent of listing order", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("zz", models.AccountTypeOAuth, 10)
		f.addShared("aa", models.AccountTypeOAuth, 10)

		// Never-used accounts at the same priority: the lower id must
		// win on every call regardless of directory iteration order.
		for i := 0; i < 10; i++ {
			sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
			require.NoError(t, err)
			assert.Equal(t, "aa", sel.AccountID)
		}
	})

	t.Run("selection is deterministic without state changes", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 20)
		f.addShared("b", models.AccountTypeConsole, 20)
		f.addShared("c", models.AccountTypeCloud, 5)

		for i := 0; i < 3; i++ {
			sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
			require.NoError(t, err)
			assert.Equal(t, "c", sel.AccountID)
		}
	})

	t.Run("dedicated accounts never join the pool", func(t *testing.T) {
		f := newFixture(t)
		f.addDedicated("locked", models.AccountTypeOAuth)
		f.addShared("open", models.AccountTypeConsole, 90)

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "open", sel.AccountID)
	})

	t.Run("empty pool is generic exhaustion", func(t *testing.T) {
		f := newFixture(t)
		inactive := f.addShared("dead", models.AccountTypeOAuth, 10)
		inactive.IsActive = false

		_, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.Error(t, err)
		assert.True(t, services.IsNoEligibleAccountError(err))
	})

	t.Run("unschedulable excluded independently of active", func(t *testing.T) {
		f := newFixture(t)
		paused := f.addShared("paused", models.AccountTypeOAuth, 10)
		paused.Schedulable = false
		f.addShared("live", models.AccountTypeOAuth, 90)

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "live", sel.AccountID)
	})
}

func TestSelectAccountForAPIKey_ConcurrencySaturation(t *testing.T) {
	ctx := context.Background()

	t.Run("console below limit is selected", func(t *testing.T) {
		f := newFixture(t)
		account := f.addShared("c1", models.AccountTypeConsole, 10)
		account.MaxConcurrentTasks = 2
		_, err := f.dirs[models.AccountTypeConsole].Counter().Acquire(ctx, "c1", time.Minute)
		require.NoError(t, err)

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "c1", sel.AccountID)
	})

	t.Run("sole candidate at limit raises saturation", func(t *testing.T) {
		f := newFixture(t)
		account := f.addShared("c1", models.AccountTypeConsole, 10)
		account.MaxConcurrentTasks = 2
		counter := f.dirs[models.AccountTypeConsole].Counter()
		for i := 0; i < 2; i++ {
			_, err := counter.Acquire(ctx, "c1", time.Minute)
			require.NoError(t, err)
		}

		_, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.Error(t, err)
		assert.True(t, services.IsConcurrencySaturatedError(err))
		assert.False(t, services.IsNoEligibleAccountError(err))
	})

	t.Run("mixed console rejection reasons stay generic", func(t *testing.T) {
		f := newFixture(t)
		full := f.addShared("full", models.AccountTypeConsole, 10)
		full.MaxConcurrentTasks = 1
		_, err := f.dirs[models.AccountTypeConsole].Counter().Acquire(ctx, "full", time.Minute)
		require.NoError(t, err)
		broken := f.addShared("broken", models.AccountTypeConsole, 10)
		broken.Status = models.StatusError

		_, err = f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.Error(t, err)
		assert.True(t, services.IsNoEligibleAccountError(err))
	})

	t.Run("zero max means unlimited", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("c1", models.AccountTypeConsole, 10)
		counter := f.dirs[models.AccountTypeConsole].Counter()
		for i := 0; i < 50; i++ {
			_, err := counter.Acquire(ctx, "c1", time.Minute)
			require.NoError(t, err)
		}

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "c1", sel.AccountID)
	})
}

func TestStickySessions(t *testing.T) {
	ctx := context.Background()

	t.Run("pool selection establishes a reusable mapping", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 10)
		f.addShared("b", models.AccountTypeOAuth, 20)

		first, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)

		// Flip priorities; the mapping must still win over re-ranking.
		f.dirs[models.AccountTypeOAuth].Put(&models.Account{
			ID: "b", Type: models.AccountTypeOAuth, Name: "b",
			IsActive: true, Schedulable: true, Status: models.StatusActive,
			PoolKind: models.PoolShared, Priority: 1, LastUsedAt: models.LastUsedNever,
		})

		second, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		assert.Equal(t, first.AccountID, second.AccountID)
		assert.Equal(t, first.AccountType, second.AccountType)
	})

	t.Run("rate-limited mapping is discarded and re-selected", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 10)
		f.addShared("b", models.AccountTypeOAuth, 20)

		first, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		require.Equal(t, "a", first.AccountID)

		require.NoError(t, f.dirs[models.AccountTypeOAuth].MarkRateLimited(ctx, "a", nil))

		second, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		assert.Equal(t, "b", second.AccountID)

		mapping, err := f.sessions.Get(ctx, "fp-1")
		require.NoError(t, err)
		require.NotNil(t, mapping)
		assert.Equal(t, "b", mapping.AccountID)
	})

	t.Run("ttl renewed only below the threshold", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 10)

		base := time.Now()
		f.sessions.SetClock(func() time.Time { return base })

		_, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)

		// Plenty of TTL left: reuse must not extend.
		f.sessions.SetClock(func() time.Time { return base.Add(10 * time.Minute) })
		_, err = f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		remaining, err := f.sessions.TTLRemaining(ctx, "fp-1")
		require.NoError(t, err)
		assert.InDelta(t, (50 * time.Minute).Seconds(), remaining.Seconds(), 1)

		// Below the threshold: reuse re-applies the full TTL.
		f.sessions.SetClock(func() time.Time { return base.Add(50 * time.Minute) })
		_, err = f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		remaining, err = f.sessions.TTLRemaining(ctx, "fp-1")
		require.NoError(t, err)
		assert.InDelta(t, time.Hour.Seconds(), remaining.Seconds(), 1)
	})

	t.Run("vendor mapping rejected for unprefixed request", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("v1", models.AccountTypeVendor, 10)
		f.addShared("o1", models.AccountTypeOAuth, 10)

		mapping := sessions.Mapping{AccountID: "v1", AccountType: models.AccountTypeVendor}
		require.NoError(t, f.sessions.Set(ctx, "fp-1", mapping, time.Hour))

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		assert.Equal(t, "o1", sel.AccountID)
		assert.NotEqual(t, models.AccountTypeVendor, sel.AccountType)
	})

	t.Run("mapping to deleted account is discarded", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("b", models.AccountTypeOAuth, 20)

		mapping := sessions.Mapping{AccountID: "gone", AccountType: models.AccountTypeOAuth}
		require.NoError(t, f.sessions.Set(ctx, "fp-1", mapping, time.Hour))

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		assert.Equal(t, "b", sel.AccountID)
	})
}

func TestVendorRouting(t *testing.T) {
	ctx := context.Background()

	t.Run("prefix routes to the vendor pool only", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("o1", models.AccountTypeOAuth, 1)
		f.addShared("v1", models.AccountTypeVendor, 99)

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{
			APIKey:         plainKey(),
			RequestedModel: "vendor:glm-4",
		})
		require.NoError(t, err)
		assert.Equal(t, "v1", sel.AccountID)
		assert.Equal(t, models.AccountTypeVendor, sel.AccountType)
	})

	t.Run("empty vendor pool never falls back", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("o1", models.AccountTypeOAuth, 1)

		_, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{
			APIKey:         plainKey(),
			RequestedModel: "vendor:glm-4",
		})
		require.Error(t, err)
		assert.True(t, services.IsNoEligibleAccountError(err))
	})

	t.Run("allow-list matched against the stripped model", func(t *testing.T) {
		f := newFixture(t)
		account := f.addShared("v1", models.AccountTypeVendor, 10)
		account.SupportedModels = models.ModelList{"glm-4"}
		other := f.addShared("v2", models.AccountTypeVendor, 1)
		other.SupportedModels = models.ModelList{"something-else"}

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{
			APIKey:         plainKey(),
			RequestedModel: "vendor:glm-4",
		})
		require.NoError(t, err)
		assert.Equal(t, "v1", sel.AccountID)
	})

	t.Run("non-vendor accounts excluded from the unprefixed pool", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("v1", models.AccountTypeVendor, 1)
		f.addShared("o1", models.AccountTypeOAuth, 99)

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "o1", sel.AccountID)
	})
}

func TestMarkHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("rate limit mark excludes the account and drops the mapping", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 10)
		f.addShared("b", models.AccountTypeOAuth, 20)

		first, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		require.Equal(t, "a", first.AccountID)

		require.NoError(t, f.svc.MarkAccountRateLimited(ctx, "a", models.AccountTypeOAuth, "fp-1", nil))

		mapping, err := f.sessions.Get(ctx, "fp-1")
		require.NoError(t, err)
		assert.Nil(t, mapping)

		second, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey(), SessionFingerprint: "fp-1"})
		require.NoError(t, err)
		assert.Equal(t, "b", second.AccountID)
	})

	t.Run("temporary unavailability excludes for its window", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeConsole, 10)
		f.addShared("b", models.AccountTypeConsole, 20)

		require.NoError(t, f.svc.MarkAccountTemporarilyUnavailable(ctx, "a", models.AccountTypeConsole, "", 503, 0))

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "b", sel.AccountID)
	})

	t.Run("unauthorized mark deactivates the account", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 10)

		require.NoError(t, f.svc.MarkAccountUnauthorized(ctx, "a", models.AccountTypeOAuth, ""))

		account, err := f.dirs[models.AccountTypeOAuth].GetAccount(ctx, "a")
		require.NoError(t, err)
		assert.False(t, account.IsActive)
		assert.Equal(t, models.StatusUnauthorized, account.Status)

		_, err = f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		assert.True(t, services.IsNoEligibleAccountError(err))
	})

	t.Run("blocked mark disqualifies by status", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 10)
		f.addShared("b", models.AccountTypeOAuth, 20)

		require.NoError(t, f.svc.MarkAccountBlocked(ctx, "a", models.AccountTypeOAuth, ""))

		sel, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.Equal(t, "b", sel.AccountID)
	})

	t.Run("usage mark rotates equal-priority accounts", func(t *testing.T) {
		f := newFixture(t)
		f.addShared("a", models.AccountTypeOAuth, 10)
		f.addShared("b", models.AccountTypeOAuth, 10)

		first, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		require.NoError(t, f.svc.MarkAccountUsed(ctx, first.AccountID, first.AccountType))

		second, err := f.svc.SelectAccountForAPIKey(ctx, SelectRequest{APIKey: plainKey()})
		require.NoError(t, err)
		assert.NotEqual(t, first.AccountID, second.AccountID)
	})

	t.Run("unknown account type is a validation error", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.MarkAccountRateLimited(ctx, "a", models.AccountType("bogus"), "", nil)
		require.Error(t, err)
		assert.True(t, services.IsValidationError(err))
	})

	t.Run("clearing an absent mapping is a no-op", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.svc.ClearSessionMapping(ctx, "never-seen"))
		assert.NoError(t, f.svc.ClearSessionMapping(ctx, ""))
	})
}
