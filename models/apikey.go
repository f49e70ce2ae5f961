package models

import (
	"fmt"
	"strings"
	"time"
)

// BindingKind distinguishes a direct account binding from a group binding.
type BindingKind string

const (
	// BindingDirect references a single account by id.
	BindingDirect BindingKind = "direct"

	// BindingGroup references a named group; selection ranks its members.
	BindingGroup BindingKind = "group"
)

// Binding is a parsed dedicated-account reference carried on an API key.
//
// The stored string forms are "<accountId>", "group:<groupId>" and the
// type-prefixed "<type>:group:<groupId>" variant. They are parsed exactly
// once at the API-key boundary so resolution logic never re-parses strings.
type Binding struct {
	Kind BindingKind `json:"kind"`
	Ref  string      `json:"ref"`
}

// ParseBinding parses a stored binding reference. Empty input yields nil.
func ParseBinding(raw string) (*Binding, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	// Strip an optional account-type prefix ("cloud:group:<id>").
	if idx := strings.Index(raw, ":group:"); idx > 0 {
		prefix := raw[:idx]
		if !AccountType(prefix).Valid() {
			return nil, fmt.Errorf("unknown binding type prefix %q", prefix)
		}
		raw = raw[idx+1:]
	}

	if id, ok := strings.CutPrefix(raw, "group:"); ok {
		if id == "" {
			return nil, fmt.Errorf("group binding has empty group id")
		}
		return &Binding{Kind: BindingGroup, Ref: id}, nil
	}

	return &Binding{Kind: BindingDirect, Ref: raw}, nil
}

// APIKeyRecord is the client key record the relay hands to the scheduler.
// Each binding field, when set, pins the key to one dedicated account or
// group of its family. Multiple families may be bound at once; they are
// evaluated in fixed precedence order (oauth, console, bedrock, cloud).
type APIKeyRecord struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	OAuthBinding   *Binding `json:"oauth_binding,omitempty"`
	ConsoleBinding *Binding `json:"console_binding,omitempty"`
	BedrockBinding *Binding `json:"bedrock_binding,omitempty"`
	CloudBinding   *Binding `json:"cloud_binding,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BoundFamily pairs a binding with the account family it belongs to.
type BoundFamily struct {
	Type    AccountType
	Binding *Binding
}

// DedicatedBindings returns the populated bindings in evaluation order.
func (k *APIKeyRecord) DedicatedBindings() []BoundFamily {
	var out []BoundFamily
	if k.OAuthBinding != nil {
		out = append(out, BoundFamily{AccountTypeOAuth, k.OAuthBinding})
	}
	if k.ConsoleBinding != nil {
		out = append(out, BoundFamily{AccountTypeConsole, k.ConsoleBinding})
	}
	if k.BedrockBinding != nil {
		out = append(out, BoundFamily{AccountTypeBedrock, k.BedrockBinding})
	}
	if k.CloudBinding != nil {
		out = append(out, BoundFamily{AccountTypeCloud, k.CloudBinding})
	}
	return out
}
