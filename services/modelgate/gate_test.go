package modelgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/upb/llm-relay/models"
)

func oauthAccount(tier models.SubscriptionTier) *models.Account {
	account := models.NewAccount(models.AccountTypeOAuth, "oauth")
	account.Subscription = &models.SubscriptionInfo{AccountType: tier}
	return account
}

func TestGateOAuth(t *testing.T) {
	gate := NewGate(DefaultGateConfig())

	t.Run("empty model passes every account", func(t *testing.T) {
		assert.True(t, gate.Supports(oauthAccount(models.TierFree), ""))
	})

	t.Run("non-family model rejected", func(t *testing.T) {
		assert.False(t, gate.Supports(oauthAccount(models.TierMax), "gpt-4o"))
	})

	t.Run("family model without flagship keyword passes any tier", func(t *testing.T) {
		assert.True(t, gate.Supports(oauthAccount(models.TierFree), "claude-sonnet-4-20250514"))
		assert.True(t, gate.Supports(oauthAccount(models.TierPro), "claude-haiku-3-5"))
	})

	t.Run("free tier never serves flagship", func(t *testing.T) {
		assert.False(t, gate.Supports(oauthAccount(models.TierFree), "claude-opus-4-20250514"))
		assert.False(t, gate.Supports(oauthAccount(models.TierFree), "claude-3-opus-20240229"))
	})

	t.Run("pro tier serves new flagship releases only", func(t *testing.T) {
		assert.True(t, gate.Supports(oauthAccount(models.TierPro), "claude-opus-4-20250514"))
		assert.True(t, gate.Supports(oauthAccount(models.TierPro), "claude-opus-4-1-20250805"))
		assert.False(t, gate.Supports(oauthAccount(models.TierPro), "claude-3-opus-20240229"))
	})

	t.Run("pro tier rejects flagship without a parseable version", func(t *testing.T) {
		assert.False(t, gate.Supports(oauthAccount(models.TierPro), "claude-opus-latest"))
	})

	t.Run("max tier serves every flagship release", func(t *testing.T) {
		assert.True(t, gate.Supports(oauthAccount(models.TierMax), "claude-opus-4-20250514"))
		assert.True(t, gate.Supports(oauthAccount(models.TierMax), "claude-3-opus-20240229"))
	})

	t.Run("missing subscription treated as max tier", func(t *testing.T) {
		account := models.NewAccount(models.AccountTypeOAuth, "legacy")
		assert.True(t, gate.Supports(account, "claude-3-opus-20240229"))
	})

	t.Run("unparseable subscription treated as max tier", func(t *testing.T) {
		account := models.NewAccount(models.AccountTypeOAuth, "legacy")
		account.Subscription = &models.SubscriptionInfo{AccountType: "enterprise-legacy"}
		assert.True(t, gate.Supports(account, "claude-3-opus-20240229"))
	})

	t.Run("sub-family keyword recognized without family name", func(t *testing.T) {
		assert.True(t, gate.Supports(oauthAccount(models.TierMax), "sonnet-4"))
	})
}

func TestGateCloud(t *testing.T) {
	gate := NewGate(DefaultGateConfig())
	account := models.NewAccount(models.AccountTypeCloud, "cloud")

	t.Run("family models accepted regardless of tier", func(t *testing.T) {
		assert.True(t, gate.Supports(account, "claude-opus-4-20250514"))
		assert.True(t, gate.Supports(account, "claude-3-opus-20240229"))
	})

	t.Run("non-family models rejected", func(t *testing.T) {
		assert.False(t, gate.Supports(account, "gemini-pro"))
	})
}

func TestGateAllowList(t *testing.T) {
	gate := NewGate(DefaultGateConfig())

	t.Run("console empty allow-list accepts everything", func(t *testing.T) {
		account := models.NewAccount(models.AccountTypeConsole, "console")
		assert.True(t, gate.Supports(account, "claude-sonnet-4"))
		assert.True(t, gate.Supports(account, "any-model-at-all"))
	})

	t.Run("console allow-list enforced", func(t *testing.T) {
		account := models.NewAccount(models.AccountTypeConsole, "console")
		account.SupportedModels = models.ModelList{"claude-sonnet-4"}
		assert.True(t, gate.Supports(account, "claude-sonnet-4"))
		assert.False(t, gate.Supports(account, "claude-opus-4"))
	})

	t.Run("vendor allow-list enforced", func(t *testing.T) {
		account := models.NewAccount(models.AccountTypeVendor, "vendor")
		account.SupportedModels = models.ModelList{"glm-4"}
		assert.True(t, gate.Supports(account, "glm-4"))
		assert.False(t, gate.Supports(account, "glm-3"))
	})

	t.Run("bedrock falls back to allow-list semantics", func(t *testing.T) {
		account := models.NewAccount(models.AccountTypeBedrock, "bedrock")
		assert.True(t, gate.Supports(account, "claude-sonnet-4"))

		account.SupportedModels = models.ModelList{"claude-sonnet-4"}
		assert.False(t, gate.Supports(account, "claude-opus-4"))
	})
}

func TestGateCustomConfig(t *testing.T) {
	gate := NewGate(GateConfig{
		FamilyName:       "llama",
		FamilySubNames:   []string{"scout"},
		FlagshipKeyword:  "behemoth",
		FlagshipNewMajor: 2,
	})
	account := models.NewAccount(models.AccountTypeCloud, "cloud")

	assert.True(t, gate.Supports(account, "llama-4-scout"))
	assert.False(t, gate.Supports(account, "claude-sonnet-4"))

	t.Run("flagship version gate follows the configured keyword", func(t *testing.T) {
		pro := oauthAccount(models.TierPro)
		assert.True(t, gate.Supports(pro, "llama-behemoth-2"))
		assert.False(t, gate.Supports(pro, "llama-behemoth-1"))
		assert.False(t, gate.Supports(pro, "llama-1-behemoth"))
	})
}
