// Package modelgate decides whether an account may serve a requested model.
//
// The gate is a pure predicate; every other scheduler component calls it
// before considering an account eligible. It never touches availability
// state.
package modelgate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/upb/llm-relay/models"
)

// GateConfig tunes the family-recognition rules for oauth and cloud accounts.
type GateConfig struct {
	// FamilyName is the provider model family served by oauth and cloud
	// accounts (matched as a case-insensitive substring).
	FamilyName string

	// FamilySubNames are model sub-family keywords that also identify a
	// family model when the family name itself is absent.
	FamilySubNames []string

	// FlagshipKeyword marks the largest/most expensive tier, which is
	// additionally gated by the oauth account's subscription.
	FlagshipKeyword string

	// FlagshipNewMajor is the first major version considered a "new"
	// flagship release. Pro-tier accounts may serve new releases only.
	FlagshipNewMajor int
}

// DefaultGateConfig returns the production family rules.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		FamilyName:       "claude",
		FamilySubNames:   []string{"opus", "sonnet", "haiku"},
		FlagshipKeyword:  "opus",
		FlagshipNewMajor: 4,
	}
}

// Gate implements the model compatibility predicate.
type Gate struct {
	cfg GateConfig

	versionAfterFlagship  *regexp.Regexp
	versionBeforeFlagship *regexp.Regexp
}

// NewGate creates a gate with the given rules.
func NewGate(cfg GateConfig) *Gate {
	if cfg.FamilyName == "" {
		cfg = DefaultGateConfig()
	}
	keyword := regexp.QuoteMeta(cfg.FlagshipKeyword)
	return &Gate{
		cfg:                   cfg,
		versionAfterFlagship:  regexp.MustCompile(keyword + `[-_.](\d+)`),
		versionBeforeFlagship: regexp.MustCompile(`(\d+)[-_.]` + keyword),
	}
}

// Supports reports whether the account may serve the requested model.
// An empty requested model passes every account.
func (g *Gate) Supports(account *models.Account, requestedModel string) bool {
	if requestedModel == "" {
		return true
	}

	switch account.Type {
	case models.AccountTypeOAuth:
		return g.supportsOAuth(account, requestedModel)
	case models.AccountTypeCloud:
		// Cloud-hosted accounts serve family models only, any tier.
		return g.isFamilyModel(requestedModel)
	case models.AccountTypeConsole, models.AccountTypeVendor:
		return g.allowListPermits(account, requestedModel)
	default:
		// Remaining types are unrestricted unless they declare a list.
		return g.allowListPermits(account, requestedModel)
	}
}

// supportsOAuth applies family recognition plus the flagship tier gate.
func (g *Gate) supportsOAuth(account *models.Account, requestedModel string) bool {
	if !g.isFamilyModel(requestedModel) {
		return false
	}

	model := strings.ToLower(requestedModel)
	if !strings.Contains(model, g.cfg.FlagshipKeyword) {
		return true
	}

	switch g.subscriptionTier(account) {
	case models.TierFree:
		return false
	case models.TierPro:
		return g.isNewFlagshipRelease(model)
	default:
		// Max tier, and legacy records with missing or unparseable
		// subscription info, accept everything.
		return true
	}
}

// subscriptionTier reads the account tier, defaulting to max for legacy
// records without usable subscription info.
func (g *Gate) subscriptionTier(account *models.Account) models.SubscriptionTier {
	if account.Subscription == nil {
		return models.TierMax
	}
	switch account.Subscription.AccountType {
	case models.TierFree, models.TierPro, models.TierMax:
		return account.Subscription.AccountType
	}
	return models.TierMax
}

// isFamilyModel reports whether the model name is recognizably from the
// configured family.
func (g *Gate) isFamilyModel(requestedModel string) bool {
	model := strings.ToLower(requestedModel)
	if strings.Contains(model, g.cfg.FamilyName) {
		return true
	}
	for _, sub := range g.cfg.FamilySubNames {
		if strings.Contains(model, sub) {
			return true
		}
	}
	return false
}

// isNewFlagshipRelease extracts the major version adjacent to the flagship
// keyword and compares it to the new-release threshold. Names without a
// parseable version are treated as legacy releases.
func (g *Gate) isNewFlagshipRelease(model string) bool {
	major, ok := g.flagshipMajorVersion(model)
	if !ok {
		return false
	}
	return major >= g.cfg.FlagshipNewMajor
}

func (g *Gate) flagshipMajorVersion(model string) (int, bool) {
	if m := g.versionAfterFlagship.FindStringSubmatch(model); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v, true
		}
	}
	if m := g.versionBeforeFlagship.FindStringSubmatch(model); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v, true
		}
	}
	return 0, false
}

// allowListPermits checks the account's declared allow-list. An empty or
// absent list means every model is accepted.
func (g *Gate) allowListPermits(account *models.Account, requestedModel string) bool {
	if len(account.SupportedModels) == 0 {
		return true
	}
	return account.SupportedModels.Contains(requestedModel)
}
