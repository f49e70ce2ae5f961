package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBinding(t *testing.T) {
	t.Run("empty yields nil", func(t *testing.T) {
		binding, err := ParseBinding("")
		require.NoError(t, err)
		assert.Nil(t, binding)

		binding, err = ParseBinding("   ")
		require.NoError(t, err)
		assert.Nil(t, binding)
	})

	t.Run("bare id is a direct binding", func(t *testing.T) {
		binding, err := ParseBinding("acct-123")
		require.NoError(t, err)
		assert.Equal(t, &Binding{Kind: BindingDirect, Ref: "acct-123"}, binding)
	})

	t.Run("group prefix", func(t *testing.T) {
		binding, err := ParseBinding("group:premium")
		require.NoError(t, err)
		assert.Equal(t, &Binding{Kind: BindingGroup, Ref: "premium"}, binding)
	})

	t.Run("type-prefixed group reference", func(t *testing.T) {
		binding, err := ParseBinding("cloud:group:premium")
		require.NoError(t, err)
		assert.Equal(t, &Binding{Kind: BindingGroup, Ref: "premium"}, binding)
	})

	t.Run("unknown type prefix errors", func(t *testing.T) {
		_, err := ParseBinding("mystery:group:premium")
		assert.Error(t, err)
	})

	t.Run("empty group id errors", func(t *testing.T) {
		_, err := ParseBinding("group:")
		assert.Error(t, err)
	})
}

func TestDedicatedBindings(t *testing.T) {
	t.Run("empty key has no bindings", func(t *testing.T) {
		key := &APIKeyRecord{ID: "k1"}
		assert.Empty(t, key.DedicatedBindings())
	})

	t.Run("populated bindings come back in family precedence order", func(t *testing.T) {
		key := &APIKeyRecord{
			ID:             "k1",
			CloudBinding:   &Binding{Kind: BindingDirect, Ref: "cl1"},
			OAuthBinding:   &Binding{Kind: BindingDirect, Ref: "oa1"},
			ConsoleBinding: &Binding{Kind: BindingGroup, Ref: "g1"},
		}

		bound := key.DedicatedBindings()
		require.Len(t, bound, 3)
		assert.Equal(t, AccountTypeOAuth, bound[0].Type)
		assert.Equal(t, AccountTypeConsole, bound[1].Type)
		assert.Equal(t, AccountTypeCloud, bound[2].Type)
	})
}
