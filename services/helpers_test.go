package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"game-economy/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	walletA = "0xA11ce00000000000000000000000000000000001"
	walletB = "0xB0b0000000000000000000000000000000000002"
	walletC = "0xCa70000000000000000000000000000000000003"
	walletD = "0xD00d000000000000000000000000000000000004"
)

// wallet returns a distinct, well-formed address for i.
func wallet(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "economy.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, models.AutoMigrate(db))
	return db
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) Events(typ EventType) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, e := range n.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type fakeArchive struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (a *fakeArchive) PutReceipt(_ context.Context, key string, body []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	if a.puts == nil {
		a.puts = map[string][]byte{}
	}
	a.puts[key] = body
	return "https://cdn.test/" + key, nil
}

type fixture struct {
	db          *gorm.DB
	clock       *testClock
	notifier    *recordingNotifier
	archive     *fakeArchive
	accounts    *AccountDirectory
	ledger      *LedgerService
	referrals   *ReferralService
	tournaments *TournamentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{
		db:       db,
		clock:    &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		archive:  &fakeArchive{},
	}
	f.accounts = NewAccountDirectory(db)
	f.accounts.Now = f.clock.Now
	f.ledger = NewLedgerService(db, f.accounts, f.notifier)
	f.ledger.Now = f.clock.Now
	f.referrals = NewReferralService(db, f.accounts, nil)
	f.referrals.Now = f.clock.Now
	f.tournaments = NewTournamentService(db, f.ledger, f.referrals, f.archive, f.notifier)
	f.tournaments.Now = f.clock.Now
	return f
}

// createAccount inserts an account with an explicit creation time and optional referrer.
func (f *fixture) createAccount(t *testing.T, addr, referrer string, createdAt time.Time) {
	t.Helper()
	acct := models.Account{WalletAddress: addr, Status: models.AccountStatusStandard, CreatedAt: createdAt}
	if referrer != "" {
		ref := referrer
		acct.ReferrerAddress = &ref
	}
	require.NoError(t, f.db.Create(&acct).Error)
}

func (f *fixture) fund(t *testing.T, addr string, currency models.Currency, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), addr, currency, amount, models.SourceAdmin, "test funding")
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, addr string, currency models.Currency) int64 {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, bal.Consistent(), "balance row for %s is inconsistent: %+v", addr, bal)
	return bal.Get(currency)
}

func (f *fixture) txCount(t *testing.T, addr string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.CoinTransaction{}).Where("account_address = ?", addr).Count(&n).Error)
	return n
}
