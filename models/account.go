package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AccountType identifies the upstream provider family an account belongs to.
// Each type has its own directory, auth mechanics, and availability semantics.
type AccountType string

const (
	// AccountTypeOAuth is an official OAuth subscription account.
	AccountTypeOAuth AccountType = "oauth"

	// AccountTypeConsole is a console/API-key account with optional
	// per-account concurrency limits.
	AccountTypeConsole AccountType = "console"

	// AccountTypeBedrock is a cloud-IAM hosted account (Bedrock-like).
	AccountTypeBedrock AccountType = "bedrock"

	// AccountTypeCloud is a cloud-hosted model account (Vertex-like).
	AccountTypeCloud AccountType = "cloud"

	// AccountTypeVendor is a vendor-routed account, reachable only for
	// requests whose model carries the vendor prefix.
	AccountTypeVendor AccountType = "vendor"
)

// AllAccountTypes lists every account type in dedicated-binding precedence
// order (oauth first).
var AllAccountTypes = []AccountType{
	AccountTypeOAuth,
	AccountTypeConsole,
	AccountTypeBedrock,
	AccountTypeCloud,
	AccountTypeVendor,
}

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeOAuth, AccountTypeConsole, AccountTypeBedrock, AccountTypeCloud, AccountTypeVendor:
		return true
	}
	return false
}

// AccountStatus is the operator-visible lifecycle status of an account.
type AccountStatus string

const (
	StatusActive         AccountStatus = "active"
	StatusError          AccountStatus = "error"
	StatusBlocked        AccountStatus = "blocked"
	StatusUnauthorized   AccountStatus = "unauthorized"
	StatusTempError      AccountStatus = "temp_error"
	StatusQuotaExceeded  AccountStatus = "quota_exceeded"
	StatusAccountBlocked AccountStatus = "account_blocked"
)

// Disqualifying reports whether the status alone excludes the account from
// selection. Quota and unauthorized states are handled by their own checks.
func (s AccountStatus) Disqualifying() bool {
	switch s {
	case StatusError, StatusBlocked, StatusTempError, StatusAccountBlocked:
		return true
	}
	return false
}

// PoolKind separates shared-pool accounts from dedicated ones.
type PoolKind string

const (
	// PoolShared accounts are eligible for automatic ranked selection.
	PoolShared PoolKind = "shared"

	// PoolDedicated accounts are reachable only through an explicit binding.
	PoolDedicated PoolKind = "dedicated"
)

// SubscriptionTier is the plan tier of an official OAuth account.
type SubscriptionTier string

const (
	TierFree SubscriptionTier = "free"
	TierPro  SubscriptionTier = "pro"
	TierMax  SubscriptionTier = "max"
)

// SubscriptionInfo carries the plan details of an official OAuth account.
// Older account records may be missing or carry unparseable data; the model
// gate treats those as max tier for backward compatibility.
type SubscriptionInfo struct {
	AccountType SubscriptionTier `json:"accountType"`
}

// ModelList is an account's model allow-list. Empty means "all models".
//
// Two on-disk shapes exist: a flat JSON array (older records) and a map of
// model name to anything truthy (newer records). Both unmarshal into the
// same flat list.
type ModelList []string

// UnmarshalJSON accepts both `["a","b"]` and `{"a":true,"b":{}}` shapes.
func (m *ModelList) UnmarshalJSON(data []byte) error {
	var flat []string
	if err := json.Unmarshal(data, &flat); err == nil {
		*m = flat
		return nil
	}

	var shaped map[string]json.RawMessage
	if err := json.Unmarshal(data, &shaped); err != nil {
		return fmt.Errorf("model list must be an array or an object: %w", err)
	}
	list := make([]string, 0, len(shaped))
	for name := range shaped {
		list = append(list, name)
	}
	*m = list
	return nil
}

// Contains reports whether model appears in the allow-list.
func (m ModelList) Contains(model string) bool {
	for _, name := range m {
		if name == model {
			return true
		}
	}
	return false
}

// LastUsedNever is the sentinel value of LastUsedAt for accounts that have
// never served a request. It sorts before any real timestamp.
const LastUsedNever = "0"

// Account is the uniform descriptor every directory exposes. The scheduler
// reads it but never owns it; mutations go through the directory.
type Account struct {
	ID          string        `json:"id" db:"id"`
	Type        AccountType   `json:"account_type" db:"account_type"`
	Name        string        `json:"name" db:"name"`
	IsActive    bool          `json:"is_active" db:"is_active"`
	Schedulable bool          `json:"schedulable" db:"schedulable"`
	Status      AccountStatus `json:"status" db:"status"`
	PoolKind    PoolKind      `json:"pool_kind" db:"pool_kind"`

	// Priority orders pool selection, lower is preferred.
	Priority int `json:"priority" db:"priority"`

	// LastUsedAt is an RFC3339 timestamp string, or LastUsedNever.
	LastUsedAt string `json:"last_used_at" db:"last_used_at"`

	// SupportedModels is the optional allow-list; empty means all.
	SupportedModels ModelList `json:"supported_models,omitempty" db:"supported_models"`

	// Subscription is set for oauth accounts only.
	Subscription *SubscriptionInfo `json:"subscription,omitempty" db:"subscription"`

	// MaxConcurrentTasks caps in-flight requests for console accounts.
	// Zero means unlimited.
	MaxConcurrentTasks int `json:"max_concurrent_tasks" db:"max_concurrent_tasks"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultPriority is the mid-range priority assigned when none is given.
const DefaultPriority = 50

// NewAccount creates an active, schedulable shared account of the given type.
func NewAccount(accountType AccountType, name string) *Account {
	now := time.Now()
	return &Account{
		ID:          uuid.New().String(),
		Type:        accountType,
		Name:        name,
		IsActive:    true,
		Schedulable: true,
		Status:      StatusActive,
		PoolKind:    PoolShared,
		Priority:    DefaultPriority,
		LastUsedAt:  LastUsedNever,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LastUsedUnix returns the last-used instant as unix nanoseconds for
// sorting. Never-used and unparseable values sort first.
func (a *Account) LastUsedUnix() int64 {
	if a.LastUsedAt == "" || a.LastUsedAt == LastUsedNever {
		return 0
	}
	if ts, err := time.Parse(time.RFC3339Nano, a.LastUsedAt); err == nil {
		return ts.UnixNano()
	}
	// Legacy records stored unix milliseconds.
	if ms, err := strconv.ParseInt(a.LastUsedAt, 10, 64); err == nil {
		return ms * int64(time.Millisecond)
	}
	return 0
}

// TableName returns the table name for the Account model.
func (Account) TableName() string {
	return "accounts"
}
