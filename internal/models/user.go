package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWarningThreshold is the percentage of the spending limit at which a
// warning mail goes out.
var DefaultWarningThreshold = decimal.NewFromInt(80)

// User represents an account
type User struct {
	ID               int64            `json:"id" db:"id"`
	Username         string           `json:"username" db:"username"`
	Email            string           `json:"email" db:"email"`
	PasswordHash     string           `json:"-" db:"password_hash"`
	IsActive         bool             `json:"is_active" db:"is_active"`
	IsStaff          bool             `json:"is_staff" db:"is_staff"`
	SpendingLimit    *decimal.Decimal `json:"spending_limit" db:"spending_limit"`
	WarningThreshold decimal.Decimal  `json:"warning_threshold" db:"warning_threshold"`
	LastWarningSent  *time.Time       `json:"last_warning_sent,omitempty" db:"last_warning_sent"`
	DateJoined       time.Time        `json:"date_joined" db:"date_joined"`
}

// UserSummary is the user block returned on login
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsStaff  bool   `json:"is_staff"`
}

// Summary returns the login summary of the user
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Email: u.Email, IsStaff: u.IsStaff}
}

// ProfileUpdate carries the editable profile fields. Nil fields are left
// unchanged; ClearSpendingLimit removes the limit.
type ProfileUpdate struct {
	Email              *string          `json:"email,omitempty"`
	SpendingLimit      *decimal.Decimal `json:"spending_limit,omitempty"`
	ClearSpendingLimit bool             `json:"-"`
	WarningThreshold   *decimal.Decimal `json:"warning_threshold,omitempty"`
}
