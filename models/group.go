package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountGroup is a named, ordered set of accounts scoped to a platform
// family. Group members are ranked like the shared pool but never fall back
// to it.
type AccountGroup struct {
	ID       string   `json:"id" db:"id"`
	Name     string   `json:"name" db:"name"`
	Platform string   `json:"platform" db:"platform"`
	Members  []string `json:"members"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewAccountGroup creates an empty group for a platform family.
func NewAccountGroup(name, platform string) *AccountGroup {
	now := time.Now()
	return &AccountGroup{
		ID:        uuid.New().String(),
		Name:      name,
		Platform:  platform,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TableName returns the table name for the AccountGroup model.
func (AccountGroup) TableName() string {
	return "account_groups"
}
