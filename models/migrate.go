package models

import "gorm.io/gorm"

// AutoMigrate creates or updates every economy table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Account{},
		&CoinBalance{},
		&CoinTransaction{},
		&Tournament{},
		&TournamentParticipant{},
		&ReferralBalanceSummary{},
	)
}
