package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"game-economy/models"
	"game-economy/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountDirectory owns the accounts table.
type AccountDirectory struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewAccountDirectory(db *gorm.DB) *AccountDirectory {
	return &AccountDirectory{DB: db, Now: time.Now}
}

func validateAddress(addr string) error {
	if !utils.IsWalletAddress(addr) {
		return ValidationError.Errorf("malformed wallet address %q", addr)
	}
	return nil
}

// Get returns the account or UnknownAccount.
func (d *AccountDirectory) Get(ctx context.Context, addr string) (*models.Account, error) {
	return d.GetTx(d.DB.WithContext(ctx), addr)
}

func (d *AccountDirectory) GetTx(tx *gorm.DB, addr string) (*models.Account, error) {
	var acct models.Account
	if err := tx.First(&acct, "wallet_address = ?", addr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, UnknownAccount.Errorf("account %s does not exist", addr)
		}
		return nil, fmt.Errorf("load account %s: %w", addr, err)
	}
	return &acct, nil
}

// Create inserts a new standard account. referrer may be empty; when set it must
// name an existing account other than addr. Creating an existing account returns
// it unchanged and never rewrites its referrer.
func (d *AccountDirectory) Create(ctx context.Context, addr, referrer string) (*models.Account, error) {
	if err := validateAddress(addr); err != nil {
		return nil, err
	}
	if referrer != "" {
		if err := validateAddress(referrer); err != nil {
			return nil, err
		}
		if referrer == addr {
			return nil, ValidationError.Errorf("account cannot refer itself")
		}
	}

	var out *models.Account
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if referrer != "" {
			if _, err := d.GetTx(tx, referrer); err != nil {
				return err
			}
		}
		acct := models.Account{WalletAddress: addr, Status: models.AccountStatusStandard}
		if referrer != "" {
			ref := referrer
			acct.ReferrerAddress = &ref
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error; err != nil {
			return fmt.Errorf("create account %s: %w", addr, err)
		}
		got, err := d.GetTx(tx, addr)
		out = got
		return err
	})
	return out, err
}

// EnsureTx returns the account, creating a standard one without referrer if absent.
func (d *AccountDirectory) EnsureTx(tx *gorm.DB, addr string) (*models.Account, error) {
	acct := models.Account{WalletAddress: addr, Status: models.AccountStatusStandard}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error; err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", addr, err)
	}
	return d.GetTx(tx, addr)
}

// SetStatus changes an account's status (standard, premium, banned).
func (d *AccountDirectory) SetStatus(ctx context.Context, addr string, status models.AccountStatus) error {
	if !status.Valid() {
		return ValidationError.Errorf("unknown account status %q", status)
	}
	res := d.DB.WithContext(ctx).Model(&models.Account{}).
		Where("wallet_address = ?", addr).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("set status for %s: %w", addr, res.Error)
	}
	if res.RowsAffected == 0 {
		return UnknownAccount.Errorf("account %s does not exist", addr)
	}
	return nil
}

// Touch records activity for addr. Missing accounts are ignored.
func (d *AccountDirectory) Touch(ctx context.Context, addr string) error {
	now := d.Now()
	return d.DB.WithContext(ctx).Model(&models.Account{}).
		Where("wallet_address = ?", addr).
		Update("last_active_at", now).Error
}

// AccountFact is what the profile service knows about an account.
type AccountFact struct {
	WalletAddress   string
	ReferrerAddress string
	Status          models.AccountStatus
	CreatedAt       time.Time
}

// ApplyFact upserts an account from the profile service. Status follows the
// profile service; the referrer is only taken when the row is new.
func (d *AccountDirectory) ApplyFact(ctx context.Context, f AccountFact) error {
	if err := validateAddress(f.WalletAddress); err != nil {
		return err
	}
	if f.Status == "" {
		f.Status = models.AccountStatusStandard
	}
	if !f.Status.Valid() {
		return ValidationError.Errorf("unknown account status %q", f.Status)
	}
	if f.ReferrerAddress != "" && (f.ReferrerAddress == f.WalletAddress || !utils.IsWalletAddress(f.ReferrerAddress)) {
		f.ReferrerAddress = ""
	}

	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct := models.Account{WalletAddress: f.WalletAddress, Status: f.Status}
		if f.ReferrerAddress != "" {
			ref := f.ReferrerAddress
			acct.ReferrerAddress = &ref
		}
		if !f.CreatedAt.IsZero() {
			acct.CreatedAt = f.CreatedAt
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct)
		if res.Error != nil {
			return fmt.Errorf("insert account %s: %w", f.WalletAddress, res.Error)
		}
		if res.RowsAffected > 0 {
			return nil
		}

		if err := tx.Model(&models.Account{}).
			Where("wallet_address = ?", f.WalletAddress).
			Update("status", f.Status).Error; err != nil {
			return fmt.Errorf("update status for %s: %w", f.WalletAddress, err)
		}
		return nil
	})
}
