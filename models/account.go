package models

import (
	"strings"
	"time"
)

// AccountType классифицирует игровой аккаунт. Влияет только на отображение.
type AccountType string

const (
	AccountTypeMain AccountType = "Main"
	AccountTypeIron AccountType = "Iron"
	AccountTypeHCIM AccountType = "HCIM"
	AccountTypeUIM  AccountType = "UIM"
	AccountTypeGIM  AccountType = "GIM"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeMain, AccountTypeIron, AccountTypeHCIM, AccountTypeUIM, AccountTypeGIM:
		return true
	}
	return false
}

// OwnerID is the opaque community member id (a Discord snowflake in practice).
type OwnerID int64

// Account is a game account linked to a community member.
type Account struct {
	Name     string      `json:"name" db:"username"`
	OwnerID  OwnerID     `json:"owner_id,string" db:"owner_id"`
	Type     AccountType `json:"account_type" db:"account_type"`
	Emoji    *string     `json:"emoji,omitempty" db:"emoji"`
	LinkedAt time.Time   `json:"linked_at" db:"linked_at"`
}

// Key returns the case-insensitive identity of the account name.
func (a Account) Key() string {
	return NameKey(a.Name)
}

// NameKey normalizes an account name for uniqueness checks and locking.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
