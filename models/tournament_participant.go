package models

import "time"

// TournamentParticipant is one (tournament, account) pair. Leave hard-deletes
// the row so the pair can join again.
type TournamentParticipant struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TournamentID    string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_participant_pair,priority:1" json:"tournament_id"`
	AccountAddress  string         `gorm:"type:varchar(42);not null;uniqueIndex:idx_participant_pair,priority:2;index" json:"account_address"`
	CoinsBurned     int64          `gorm:"not null" json:"coins_burned"`
	EntryCurrency   Currency       `gorm:"type:varchar(16);not null" json:"entry_currency"`
	EligibilityType TournamentType `gorm:"type:varchar(16);not null" json:"eligibility_type"`
	Score           int64          `gorm:"not null;default:0" json:"score"`

	// Settlement results, nil until ranks are assigned.
	FinalRank     *int       `json:"final_rank,omitempty"`
	PrizeAmount   *int64     `json:"prize_amount,omitempty"`
	PrizeShareBps *int64     `json:"prize_share_bps,omitempty"`
	Paid          bool       `gorm:"not null;default:false" json:"paid"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`

	JoinedAt  time.Time `gorm:"not null" json:"joined_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
