package models

import (
	"time"

	"gorm.io/datatypes"
)

// Currency names one of the four parallel sub-balances.
type Currency string

const (
	CurrencyExperience  Currency = "experience"
	CurrencyAchievement Currency = "achievement"
	CurrencySocial      Currency = "social"
	CurrencyPremium     Currency = "premium"
)

// Currencies lists every sub-balance in column order.
var Currencies = []Currency{CurrencyExperience, CurrencyAchievement, CurrencySocial, CurrencyPremium}

// CurrencyColumns maps a currency to its coin_balances column. Storage code
// must go through this table, never build column names from user input.
var CurrencyColumns = map[Currency]string{
	CurrencyExperience:  "experience",
	CurrencyAchievement: "achievement",
	CurrencySocial:      "social",
	CurrencyPremium:     "premium",
}

func (c Currency) Valid() bool {
	_, ok := CurrencyColumns[c]
	return ok
}

// Column returns the balance column for c, or "" if c is unknown.
func (c Currency) Column() string {
	return CurrencyColumns[c]
}

// TransactionKind classifies a ledger entry from the account holder's view.
type TransactionKind string

const (
	KindEarned      TransactionKind = "earned"
	KindSpent       TransactionKind = "spent"
	KindTransferred TransactionKind = "transferred"
	KindNone        TransactionKind = "none"
)

// TransactionSource says which part of the platform caused the entry.
type TransactionSource string

const (
	SourceGamePlay   TransactionSource = "gameplay"
	SourceTournament TransactionSource = "tournament"
	SourceTransfer   TransactionSource = "transfer"
	SourceWithdrawal TransactionSource = "withdrawal"
	SourceDeposit    TransactionSource = "deposit"
	SourceReferral   TransactionSource = "referral"
	SourceAdmin      TransactionSource = "admin"
)

func (s TransactionSource) Valid() bool {
	switch s {
	case SourceGamePlay, SourceTournament, SourceTransfer, SourceWithdrawal, SourceDeposit, SourceReferral, SourceAdmin:
		return true
	}
	return false
}

// CoinBalance is written only by the ledger service.
type CoinBalance struct {
	AccountAddress string    `gorm:"primaryKey;type:varchar(42)" json:"account_address"`
	Experience     int64     `gorm:"not null;default:0" json:"experience"`
	Achievement    int64     `gorm:"not null;default:0" json:"achievement"`
	Social         int64     `gorm:"not null;default:0" json:"social"`
	Premium        int64     `gorm:"not null;default:0" json:"premium"`
	Total          int64     `gorm:"not null;default:0" json:"total"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Get returns the sub-balance for c.
func (b *CoinBalance) Get(c Currency) int64 {
	switch c {
	case CurrencyExperience:
		return b.Experience
	case CurrencyAchievement:
		return b.Achievement
	case CurrencySocial:
		return b.Social
	case CurrencyPremium:
		return b.Premium
	}
	return 0
}

// SubTotal is the sum of the four sub-balances.
func (b *CoinBalance) SubTotal() int64 {
	return b.Experience + b.Achievement + b.Social + b.Premium
}

// Consistent reports whether Total matches the sub-balances and nothing is negative.
func (b *CoinBalance) Consistent() bool {
	if b.Experience < 0 || b.Achievement < 0 || b.Social < 0 || b.Premium < 0 {
		return false
	}
	return b.Total == b.SubTotal()
}

// CoinTransaction is an immutable ledger entry. ID doubles as the commit
// sequence used to order entries for one (account, currency).
type CoinTransaction struct {
	ID             uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountAddress string            `gorm:"type:varchar(42);not null;index:idx_coin_tx_account_currency,priority:1" json:"account_address"`
	Currency       Currency          `gorm:"type:varchar(16);not null;index:idx_coin_tx_account_currency,priority:2" json:"currency"`
	Amount         int64             `gorm:"not null" json:"amount"` // signed
	BalanceBefore  int64             `gorm:"not null" json:"balance_before"`
	BalanceAfter   int64             `gorm:"not null" json:"balance_after"`
	Kind           TransactionKind   `gorm:"type:varchar(16);not null" json:"kind"`
	Source         TransactionSource `gorm:"type:varchar(16);not null;index" json:"source"`
	Description    string            `json:"description,omitempty"`
	Reference      string            `gorm:"type:varchar(64);index" json:"reference,omitempty"` // tournament id, transfer id
	Metadata       datatypes.JSON    `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
}
