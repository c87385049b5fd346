package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"game-economy/models"
	"game-economy/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultLedgerRetries = 5

// errCASMiss means the guarded balance update matched no row: another writer
// changed the sub-balance between our read and our write. The whole DB
// transaction is retried.
var errCASMiss = errors.New("ledger: balance changed concurrently")

// Entry describes one ledger mutation for the transaction-scoped variants.
type Entry struct {
	Account     string
	Currency    models.Currency
	Amount      int64 // positive; the direction comes from the operation
	Source      models.TransactionSource
	Description string
	Reference   string
	Metadata    map[string]interface{}
}

// LedgerService is the only writer of coin_balances and coin_transactions.
type LedgerService struct {
	DB         *gorm.DB
	Accounts   *AccountDirectory
	Notifier   Notifier
	Now        func() time.Time
	MaxRetries int

	log zerolog.Logger
}

func NewLedgerService(db *gorm.DB, accounts *AccountDirectory, notifier Notifier) *LedgerService {
	if notifier == nil {
		notifier = NopNotifier
	}
	return &LedgerService{
		DB:         db,
		Accounts:   accounts,
		Notifier:   notifier,
		Now:        time.Now,
		MaxRetries: defaultLedgerRetries,
		log:        utils.Component("ledger"),
	}
}

// Credit adds amount to the account's sub-balance, creating the account and
// its balance row if needed.
func (s *LedgerService) Credit(ctx context.Context, account string, currency models.Currency, amount int64, source models.TransactionSource, description string) (*models.CoinTransaction, error) {
	e := Entry{Account: account, Currency: currency, Amount: amount, Source: source, Description: description}
	var out *models.CoinTransaction
	err := s.RunInTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.CreditTx(tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Notifier.Publish(rewardCreditedEvent(out))
	return out, nil
}

// Debit removes amount from the account's sub-balance.
func (s *LedgerService) Debit(ctx context.Context, account string, currency models.Currency, amount int64, source models.TransactionSource, description string) (*models.CoinTransaction, error) {
	e := Entry{Account: account, Currency: currency, Amount: amount, Source: source, Description: description}
	var out *models.CoinTransaction
	err := s.RunInTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.DebitTx(tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transfer moves amount between two existing accounts in one DB transaction.
// Both legs share a reference id.
func (s *LedgerService) Transfer(ctx context.Context, from, to string, currency models.Currency, amount int64) (debit, credit *models.CoinTransaction, err error) {
	if err := validateAddress(from); err != nil {
		return nil, nil, err
	}
	if err := validateAddress(to); err != nil {
		return nil, nil, err
	}
	if from == to {
		return nil, nil, ValidationError.Errorf("cannot transfer to the same account")
	}
	if err := validateAmount(currency, amount); err != nil {
		return nil, nil, err
	}

	ref := uuid.NewString()
	err = s.RunInTx(ctx, func(tx *gorm.DB) error {
		for _, addr := range []string{from, to} {
			if _, err := s.Accounts.GetTx(tx, addr); err != nil {
				return err
			}
			if err := ensureBalanceRow(tx, addr); err != nil {
				return err
			}
		}

		// Lock both rows in address order so opposing transfers cannot deadlock.
		pair := []string{from, to}
		sort.Strings(pair)
		for _, addr := range pair {
			if _, err := lockBalance(tx, addr); err != nil {
				return err
			}
		}

		var err error
		debit, err = s.apply(tx, Entry{
			Account: from, Currency: currency, Amount: amount, Source: models.SourceTransfer,
			Description: fmt.Sprintf("transfer to %s", to), Reference: ref,
		}, -amount, models.KindTransferred)
		if err != nil {
			return err
		}
		credit, err = s.apply(tx, Entry{
			Account: to, Currency: currency, Amount: amount, Source: models.SourceTransfer,
			Description: fmt.Sprintf("transfer from %s", from), Reference: ref,
		}, amount, models.KindTransferred)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.Notifier.Publish(rewardCreditedEvent(credit))
	return debit, credit, nil
}

// Balance returns the account's balances. Accounts without a balance row (or
// without an account) read as all zero; nothing is created.
func (s *LedgerService) Balance(ctx context.Context, account string) (models.CoinBalance, error) {
	if err := validateAddress(account); err != nil {
		return models.CoinBalance{}, err
	}
	var bal models.CoinBalance
	err := s.DB.WithContext(ctx).First(&bal, "account_address = ?", account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CoinBalance{AccountAddress: account}, nil
	}
	if err != nil {
		return models.CoinBalance{}, fmt.Errorf("load balance for %s: %w", account, err)
	}
	return bal, nil
}

// History returns the newest ledger entries for an account, optionally
// filtered by currency.
func (s *LedgerService) History(ctx context.Context, account string, currency models.Currency, limit int) ([]models.CoinTransaction, error) {
	if err := validateAddress(account); err != nil {
		return nil, err
	}
	if currency != "" && !currency.Valid() {
		return nil, ValidationError.Errorf("unknown currency %q", currency)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("account_address = ?", account)
	if currency != "" {
		q = q.Where("currency = ?", currency)
	}
	var txs []models.CoinTransaction
	if err := q.Order("id DESC").Limit(limit).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("load history for %s: %w", account, err)
	}
	return txs, nil
}

// RunInTx runs fn in a DB transaction and retries it from scratch when a
// balance compare-and-swap loses a race.
func (s *LedgerService) RunInTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultLedgerRetries
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		err = s.DB.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, errCASMiss) {
			return err
		}
		utils.LedgerRetries.Inc()
		s.log.Debug().Int("attempt", attempt+1).Msg("balance changed concurrently, retrying")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("ledger contention after %d attempts: %w", retries, err)
}

// CreditTx is Credit inside the caller's transaction. The caller must run the
// transaction through RunInTx so a lost race is retried.
func (s *LedgerService) CreditTx(tx *gorm.DB, e Entry) (*models.CoinTransaction, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	if _, err := s.Accounts.EnsureTx(tx, e.Account); err != nil {
		return nil, err
	}
	if err := ensureBalanceRow(tx, e.Account); err != nil {
		return nil, err
	}
	kind := models.KindEarned
	if e.Source == models.SourceTransfer {
		kind = models.KindTransferred
	}
	return s.apply(tx, e, e.Amount, kind)
}

// DebitTx is Debit inside the caller's transaction.
func (s *LedgerService) DebitTx(tx *gorm.DB, e Entry) (*models.CoinTransaction, error) {
	if err := validateEntry(e); err != nil {
		return nil, err
	}
	if _, err := s.Accounts.GetTx(tx, e.Account); err != nil {
		return nil, err
	}
	if err := ensureBalanceRow(tx, e.Account); err != nil {
		return nil, err
	}
	return s.apply(tx, e, -e.Amount, models.KindSpent)
}

func validateAmount(currency models.Currency, amount int64) error {
	if !currency.Valid() {
		return ValidationError.Errorf("unknown currency %q", currency)
	}
	if amount <= 0 {
		return ValidationError.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

func validateEntry(e Entry) error {
	if err := validateAddress(e.Account); err != nil {
		return err
	}
	if err := validateAmount(e.Currency, e.Amount); err != nil {
		return err
	}
	if !e.Source.Valid() {
		return ValidationError.Errorf("unknown transaction source %q", e.Source)
	}
	return nil
}

func ensureBalanceRow(tx *gorm.DB, account string) error {
	row := models.CoinBalance{AccountAddress: account}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("create balance row for %s: %w", account, err)
	}
	return nil
}

func lockBalance(tx *gorm.DB, account string) (*models.CoinBalance, error) {
	var bal models.CoinBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&bal, "account_address = ?", account).Error
	if err != nil {
		return nil, fmt.Errorf("lock balance for %s: %w", account, err)
	}
	return &bal, nil
}

// apply changes one sub-balance by delta and appends the matching ledger entry.
// The balance row must exist.
func (s *LedgerService) apply(tx *gorm.DB, e Entry, delta int64, kind models.TransactionKind) (*models.CoinTransaction, error) {
	col := e.Currency.Column()
	if col == "" {
		return nil, ValidationError.Errorf("unknown currency %q", e.Currency)
	}

	bal, err := lockBalance(tx, e.Account)
	if err != nil {
		return nil, err
	}
	before := bal.Get(e.Currency)
	if delta < 0 && before < -delta {
		return nil, InsufficientFunds.Errorf("%s balance of %s is %d, need %d", e.Currency, e.Account, before, -delta)
	}
	if delta > 0 && (before > math.MaxInt64-delta || bal.Total > math.MaxInt64-delta) {
		return nil, ValidationError.Errorf("credit of %d would overflow %s balance of %s", delta, e.Currency, e.Account)
	}
	after := before + delta

	res := tx.Model(&models.CoinBalance{}).
		Where("account_address = ? AND "+col+" = ?", e.Account, before).
		Updates(map[string]interface{}{
			col:          gorm.Expr(col+" + ?", delta),
			"total":      gorm.Expr("total + ?", delta),
			"updated_at": s.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update balance for %s: %w", e.Account, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errCASMiss
	}

	var check models.CoinBalance
	if err := tx.First(&check, "account_address = ?", e.Account).Error; err != nil {
		return nil, fmt.Errorf("re-read balance for %s: %w", e.Account, err)
	}
	if !check.Consistent() || check.Get(e.Currency) != after {
		utils.InvariantViolations.Inc()
		s.log.Error().
			Str("account", e.Account).
			Str("currency", string(e.Currency)).
			Int64("expected", after).
			Int64("actual", check.Get(e.Currency)).
			Int64("total", check.Total).
			Int64("sum", check.SubTotal()).
			Msg("balance invariant violated, rolling back")
		return nil, InternalConsistencyError.Errorf("balance of %s is inconsistent after %s", e.Account, kind)
	}

	var meta datatypes.JSON
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, ValidationError.Wrap(err, "encode metadata")
		}
		meta = datatypes.JSON(raw)
	}

	entry := &models.CoinTransaction{
		AccountAddress: e.Account,
		Currency:       e.Currency,
		Amount:         delta,
		BalanceBefore:  before,
		BalanceAfter:   after,
		Kind:           kind,
		Source:         e.Source,
		Description:    e.Description,
		Reference:      e.Reference,
		Metadata:       meta,
		CreatedAt:      s.Now(),
	}
	if err := tx.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("append ledger entry for %s: %w", e.Account, err)
	}

	utils.LedgerMutations.WithLabelValues(string(kind), string(e.Currency)).Inc()
	return entry, nil
}
