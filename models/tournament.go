package models

import (
	"time"

	"gorm.io/datatypes"
)

type TournamentState string

const (
	TournamentUpcoming  TournamentState = "upcoming"
	TournamentActive    TournamentState = "active"
	TournamentEnded     TournamentState = "ended"
	TournamentSettling  TournamentState = "settling" // payouts in flight, Settle resumes from here
	TournamentSettled   TournamentState = "settled"
	TournamentCancelled TournamentState = "cancelled"
)

// Terminal states accept no further transitions.
func (s TournamentState) Terminal() bool {
	return s == TournamentSettled || s == TournamentCancelled
}

// TournamentType gates who may join.
type TournamentType string

const (
	TournamentBalanced   TournamentType = "balanced"
	TournamentUnbalanced TournamentType = "unbalanced"
)

// TournamentMode decides how participants are ranked at settlement.
type TournamentMode string

const (
	ModeScore    TournamentMode = "score"     // best submitted score
	ModeCoinPool TournamentMode = "coin_pool" // coins burned; escrow joins the pot
)

type PrizeRuleKind string

const (
	PrizeWinnerTakeAll PrizeRuleKind = "winner_take_all"
	PrizeProportional  PrizeRuleKind = "proportional"
	PrizeFixed         PrizeRuleKind = "fixed"
)

// Tournament is created by an operator; after that only State and the
// settlement fields change.
type Tournament struct {
	ID                string                     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Slug              string                     `json:"slug" gorm:"uniqueIndex;not null"`
	Name              string                     `json:"name" gorm:"not null"`
	Type              TournamentType             `json:"type" gorm:"type:varchar(16);not null;default:'unbalanced'"`
	Mode              TournamentMode             `json:"mode" gorm:"type:varchar(16);not null;default:'score'"`
	PrizePool         int64                      `json:"prize_pool" gorm:"not null;default:0"`
	PrizeCurrency     Currency                   `json:"prize_currency" gorm:"type:varchar(16);not null"`
	EntryCurrency     Currency                   `json:"entry_currency" gorm:"type:varchar(16);not null"`
	EntryTokenAddress *string                    `json:"entry_token_address,omitempty" gorm:"type:varchar(42)"`
	ChainID           *string                    `json:"chain_id,omitempty" gorm:"type:varchar(32)"`
	MinCoins          int64                      `json:"min_coins" gorm:"not null;default:0"`
	EquilibriumMin    *int64                     `json:"equilibrium_min,omitempty"`
	EquilibriumMax    *int64                     `json:"equilibrium_max,omitempty"`
	MaxParticipants   int                        `json:"max_participants" gorm:"not null;default:0"` // 0 = unlimited
	PrizeRule         PrizeRuleKind              `json:"prize_rule" gorm:"type:varchar(24);not null;default:'winner_take_all'"`
	PrizeTableBps     datatypes.JSONSlice[int64] `json:"prize_table_bps,omitempty"`
	StartDate         time.Time                  `json:"start_date" gorm:"not null"`
	EndDate           time.Time                  `json:"end_date" gorm:"not null"`
	State             TournamentState            `json:"state" gorm:"type:varchar(16);not null;index"`
	SettledAt         *time.Time                 `json:"settled_at,omitempty"`
	SettlementRef     string                     `json:"settlement_ref,omitempty"`
	CreatedAt         time.Time                  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time                  `json:"updated_at" gorm:"autoUpdateTime"`

	// Calculated fields (not stored in DB)
	ParticipantsCount int64 `json:"participants_count,omitempty" gorm:"-"`
}

// AcceptsJoinAt reports whether t is inside the [StartDate, EndDate) join window.
func (t *Tournament) AcceptsJoinAt(now time.Time) bool {
	return !now.Before(t.StartDate) && now.Before(t.EndDate)
}

// HasEquilibriumWindow reports whether joining is gated on the referral equilibrium point.
func (t *Tournament) HasEquilibriumWindow() bool {
	return t.EquilibriumMin != nil || t.EquilibriumMax != nil
}

// InEquilibriumWindow checks point against the optional min/max bounds (inclusive).
func (t *Tournament) InEquilibriumWindow(point int64) bool {
	if t.EquilibriumMin != nil && point < *t.EquilibriumMin {
		return false
	}
	if t.EquilibriumMax != nil && point > *t.EquilibriumMax {
		return false
	}
	return true
}
