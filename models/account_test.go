package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountTypeValid(t *testing.T) {
	for _, accountType := range AllAccountTypes {
		assert.True(t, accountType.Valid(), string(accountType))
	}
	assert.False(t, AccountType("gateway").Valid())
	assert.False(t, AccountType("").Valid())
}

func TestAccountStatusDisqualifying(t *testing.T) {
	disqualifying := []AccountStatus{StatusError, StatusBlocked, StatusTempError, StatusAccountBlocked}
	for _, status := range disqualifying {
		assert.True(t, status.Disqualifying(), string(status))
	}

	// Quota and credential states have dedicated checks elsewhere.
	passing := []AccountStatus{StatusActive, StatusQuotaExceeded, StatusUnauthorized}
	for _, status := range passing {
		assert.False(t, status.Disqualifying(), string(status))
	}
}

func TestModelListUnmarshal(t *testing.T) {
	t.Run("flat array", func(t *testing.T) {
		var list ModelList
		require.NoError(t, json.Unmarshal([]byte(`["claude-sonnet-4","claude-opus-4"]`), &list))
		assert.Equal(t, ModelList{"claude-sonnet-4", "claude-opus-4"}, list)
	})

	t.Run("object shape", func(t *testing.T) {
		var list ModelList
		require.NoError(t, json.Unmarshal([]byte(`{"claude-sonnet-4":true,"claude-opus-4":{}}`), &list))
		assert.Len(t, list, 2)
		assert.True(t, list.Contains("claude-sonnet-4"))
		assert.True(t, list.Contains("claude-opus-4"))
	})

	t.Run("invalid shape errors", func(t *testing.T) {
		var list ModelList
		assert.Error(t, json.Unmarshal([]byte(`"claude-sonnet-4"`), &list))
	})
}

func TestModelListContains(t *testing.T) {
	list := ModelList{"glm-4"}
	assert.True(t, list.Contains("glm-4"))
	assert.False(t, list.Contains("glm-3"))
	assert.False(t, ModelList(nil).Contains("glm-4"))
}

func TestNewAccount(t *testing.T) {
	account := NewAccount(AccountTypeConsole, "primary key")

	assert.NotEmpty(t, account.ID)
	assert.Equal(t, AccountTypeConsole, account.Type)
	assert.True(t, account.IsActive)
	assert.True(t, account.Schedulable)
	assert.Equal(t, StatusActive, account.Status)
	assert.Equal(t, PoolShared, account.PoolKind)
	assert.Equal(t, DefaultPriority, account.Priority)
	assert.Equal(t, LastUsedNever, account.LastUsedAt)
}

func TestLastUsedUnix(t *testing.T) {
	account := NewAccount(AccountTypeOAuth, "a")

	t.Run("never used sorts first", func(t *testing.T) {
		account.LastUsedAt = LastUsedNever
		assert.Zero(t, account.LastUsedUnix())

		account.LastUsedAt = ""
		assert.Zero(t, account.LastUsedUnix())
	})

	t.Run("rfc3339 timestamps order correctly", func(t *testing.T) {
		earlier := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		later := earlier.Add(time.Hour)

		account.LastUsedAt = earlier.Format(time.RFC3339Nano)
		a := account.LastUsedUnix()
		account.LastUsedAt = later.Format(time.RFC3339Nano)
		b := account.LastUsedUnix()

		assert.Less(t, a, b)
	})

	t.Run("legacy millisecond records parse", func(t *testing.T) {
		account.LastUsedAt = "1700000000000"
		assert.Equal(t, int64(1700000000000)*int64(time.Millisecond), account.LastUsedUnix())
	})

	t.Run("garbage sorts first", func(t *testing.T) {
		account.LastUsedAt = "yesterday"
		assert.Zero(t, account.LastUsedUnix())
	})
}
