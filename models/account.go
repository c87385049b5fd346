package models

import (
	"time"
)

type AccountStatus string

const (
	AccountStatusStandard AccountStatus = "standard"
	AccountStatusPremium  AccountStatus = "premium"
	AccountStatusBanned   AccountStatus = "banned"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusStandard, AccountStatusPremium, AccountStatusBanned:
		return true
	}
	return false
}

// Account is keyed by the wallet address exactly as the client supplied it.
// Rows are never hard-deleted; bans and upgrades are status changes.
type Account struct {
	WalletAddress   string        `gorm:"primaryKey;type:varchar(42)" json:"wallet_address"`
	ReferrerAddress *string       `gorm:"type:varchar(42);index" json:"referrer_address,omitempty"` // set once, on insert
	Status          AccountStatus `gorm:"type:varchar(16);not null;default:'standard'" json:"status"`
	LastActiveAt    *time.Time    `json:"last_active_at,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Account) IsBanned() bool {
	return a.Status == AccountStatusBanned
}

// AgeDays returns whole days since the account was created.
func (a *Account) AgeDays(now time.Time) int {
	if now.Before(a.CreatedAt) {
		return 0
	}
	return int(now.Sub(a.CreatedAt).Hours() / 24)
}
