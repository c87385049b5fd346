package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"game-economy/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) newTournament(t *testing.T, mutate func(in *CreateTournamentInput)) *models.Tournament {
	t.Helper()
	now := f.clock.Now()
	in := CreateTournamentInput{
		Name:      "Spring Cup",
		PrizePool: 1000,
		StartDate: now.Add(-time.Hour),
		EndDate:   now.Add(24 * time.Hour),
	}
	if mutate != nil {
		mutate(&in)
	}
	tr, err := f.tournaments.Create(context.Background(), in)
	require.NoError(t, err)
	return tr
}

// enter funds addr with exactly amount of the entry currency and joins.
func (f *fixture) enter(t *testing.T, tr *models.Tournament, addr string, amount int64) *models.TournamentParticipant {
	t.Helper()
	f.fund(t, addr, tr.EntryCurrency, amount)
	p, err := f.tournaments.Join(context.Background(), tr.ID, addr, amount)
	require.NoError(t, err)
	return p
}

func (f *fixture) state(t *testing.T, id string) models.TournamentState {
	t.Helper()
	tr, err := f.tournaments.Get(context.Background(), id)
	require.NoError(t, err)
	return tr.State
}

func TestCreateTournament(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr := f.newTournament(t, nil)
	assert.Equal(t, models.TournamentUpcoming, tr.State)
	assert.Equal(t, models.TournamentUnbalanced, tr.Type)
	assert.Equal(t, models.ModeScore, tr.Mode)
	assert.Equal(t, models.CurrencyPremium, tr.PrizeCurrency)
	assert.Equal(t, models.CurrencyExperience, tr.EntryCurrency)
	assert.Equal(t, models.PrizeWinnerTakeAll, tr.PrizeRule)
	assert.True(t, strings.HasPrefix(tr.Slug, "spring-cup-"))

	now := f.clock.Now()
	bad := []CreateTournamentInput{
		{StartDate: now, EndDate: now.Add(time.Hour)},
		{Name: "Backwards", StartDate: now, EndDate: now.Add(-time.Hour)},
		{Name: "Negative", PrizePool: -1, StartDate: now, EndDate: now.Add(time.Hour)},
		{Name: "No table", PrizeRule: models.PrizeFixed, StartDate: now, EndDate: now.Add(time.Hour)},
		{Name: "Bad mode", Mode: "lottery", StartDate: now, EndDate: now.Add(time.Hour)},
		{Name: "Bad window", EquilibriumMin: ptr64(5), EquilibriumMax: ptr64(2), StartDate: now, EndDate: now.Add(time.Hour)},
	}
	for _, in := range bad {
		_, err := f.tournaments.Create(ctx, in)
		assert.ErrorIs(t, err, ValidationError, "input %+v", in)
	}

	list, err := f.tournaments.List(ctx, models.TournamentUpcoming, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tr.ID, list[0].ID)

	_, err = f.tournaments.Get(ctx, "missing")
	assert.ErrorIs(t, err, NotFound)
}

func ptr64(v int64) *int64 { return &v }

func TestTournamentTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, nil)

	_, err := f.tournaments.End(ctx, tr.ID)
	assert.ErrorIs(t, err, InvalidState)

	started, err := f.tournaments.Start(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentActive, started.State)

	_, err = f.tournaments.Start(ctx, tr.ID)
	assert.ErrorIs(t, err, InvalidState)
	_, err = f.tournaments.Settle(ctx, tr.ID, nil)
	assert.ErrorIs(t, err, InvalidState)
	_, err = f.tournaments.Cancel(ctx, tr.ID)
	assert.ErrorIs(t, err, InvalidState)

	ended, err := f.tournaments.End(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentEnded, ended.State)

	_, err = f.tournaments.Start(ctx, "missing")
	assert.ErrorIs(t, err, NotFound)
}

func TestJoinAndLeaveRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, func(in *CreateTournamentInput) { in.MinCoins = 50 })
	f.fund(t, walletA, models.CurrencyExperience, 100)

	_, err := f.tournaments.Join(ctx, tr.ID, walletA, 30)
	assert.ErrorIs(t, err, BelowMinimum)

	p, err := f.tournaments.Join(ctx, tr.ID, walletA, 80)
	require.NoError(t, err)
	assert.Equal(t, int64(80), p.CoinsBurned)
	assert.Equal(t, models.CurrencyExperience, p.EntryCurrency)
	assert.Equal(t, models.TournamentBalanced, p.EligibilityType)
	assert.Equal(t, int64(20), f.balance(t, walletA, models.CurrencyExperience))

	got, err := f.tournaments.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ParticipantsCount)

	_, err = f.tournaments.Join(ctx, tr.ID, walletA, 10)
	assert.ErrorIs(t, err, AlreadyJoined)

	refund, err := f.tournaments.Leave(ctx, tr.ID, walletA)
	require.NoError(t, err)
	assert.Equal(t, int64(80), refund.Amount)
	assert.Equal(t, tr.ID, refund.Reference)
	assert.Equal(t, int64(100), f.balance(t, walletA, models.CurrencyExperience))

	_, err = f.tournaments.Leave(ctx, tr.ID, walletA)
	assert.ErrorIs(t, err, NotFound)

	// the pair may join again after leaving
	_, err = f.tournaments.Join(ctx, tr.ID, walletA, 60)
	require.NoError(t, err)
	assert.Equal(t, int64(40), f.balance(t, walletA, models.CurrencyExperience))
}

func TestJoinRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown tournament", func(t *testing.T) {
		_, err := f.tournaments.Join(ctx, "missing", walletA, 10)
		assert.ErrorIs(t, err, NotFound)
		// an unknown tournament is reported before malformed input
		_, err = f.tournaments.Join(ctx, "missing", walletA, 0)
		assert.ErrorIs(t, err, NotFound)
		_, err = f.tournaments.Join(ctx, "missing", "0x12", 10)
		assert.ErrorIs(t, err, NotFound)
	})

	t.Run("bad input", func(t *testing.T) {
		tr := f.newTournament(t, nil)
		_, err := f.tournaments.Join(ctx, tr.ID, walletA, 0)
		assert.ErrorIs(t, err, ValidationError)
		_, err = f.tournaments.Join(ctx, tr.ID, "0x12", 10)
		assert.ErrorIs(t, err, ValidationError)
	})

	t.Run("outside the join window", func(t *testing.T) {
		tr := f.newTournament(t, func(in *CreateTournamentInput) {
			in.StartDate = f.clock.Now().Add(time.Hour)
			in.EndDate = f.clock.Now().Add(2 * time.Hour)
		})
		f.fund(t, walletA, models.CurrencyExperience, 10)
		_, err := f.tournaments.Join(ctx, tr.ID, walletA, 10)
		assert.ErrorIs(t, err, InvalidState)
	})

	t.Run("ended tournament", func(t *testing.T) {
		tr := f.newTournament(t, nil)
		_, err := f.tournaments.Start(ctx, tr.ID)
		require.NoError(t, err)
		_, err = f.tournaments.End(ctx, tr.ID)
		require.NoError(t, err)
		_, err = f.tournaments.Join(ctx, tr.ID, walletA, 10)
		assert.ErrorIs(t, err, InvalidState)
	})

	t.Run("unknown account", func(t *testing.T) {
		tr := f.newTournament(t, nil)
		_, err := f.tournaments.Join(ctx, tr.ID, walletD, 10)
		assert.ErrorIs(t, err, UnknownAccount)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		tr := f.newTournament(t, func(in *CreateTournamentInput) { in.EntryCurrency = models.CurrencySocial })
		f.fund(t, walletB, models.CurrencySocial, 5)
		_, err := f.tournaments.Join(ctx, tr.ID, walletB, 6)
		assert.ErrorIs(t, err, InsufficientFunds)
		assert.Equal(t, int64(5), f.balance(t, walletB, models.CurrencySocial))
		got, err := f.tournaments.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Zero(t, got.ParticipantsCount)
	})

	t.Run("capacity", func(t *testing.T) {
		tr := f.newTournament(t, func(in *CreateTournamentInput) { in.MaxParticipants = 1 })
		f.enter(t, tr, walletA, 10)
		f.fund(t, walletC, models.CurrencyExperience, 10)
		before := f.balance(t, walletC, models.CurrencyExperience)
		_, err := f.tournaments.Join(ctx, tr.ID, walletC, 10)
		assert.ErrorIs(t, err, CapacityReached)
		assert.Equal(t, before, f.balance(t, walletC, models.CurrencyExperience))
	})
}

func TestJoinEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	// walletA has an unbalanced tree: one child with a grandchild
	f.createAccount(t, walletA, "", now.Add(-72*time.Hour))
	f.createAccount(t, walletB, walletA, now.Add(-48*time.Hour))
	f.createAccount(t, walletC, walletB, now.Add(-24*time.Hour))
	f.fund(t, walletA, models.CurrencyExperience, 100)
	f.fund(t, walletC, models.CurrencyExperience, 100)

	balanced := f.newTournament(t, func(in *CreateTournamentInput) { in.Type = models.TournamentBalanced })
	_, err := f.tournaments.Join(ctx, balanced.ID, walletA, 10)
	assert.ErrorIs(t, err, NotEligible)
	p, err := f.tournaments.Join(ctx, balanced.ID, walletC, 10)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentBalanced, p.EligibilityType)

	open := f.newTournament(t, func(in *CreateTournamentInput) { in.Name = "Open Cup" })
	p, err = f.tournaments.Join(ctx, open.ID, walletA, 10)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentUnbalanced, p.EligibilityType)

	windowed := f.newTournament(t, func(in *CreateTournamentInput) {
		in.Name = "Builders Cup"
		in.EquilibriumMin = ptr64(1)
		in.EquilibriumMax = ptr64(5)
	})
	_, err = f.tournaments.Join(ctx, windowed.ID, walletC, 10)
	assert.ErrorIs(t, err, NotEligible)
	_, err = f.tournaments.Join(ctx, windowed.ID, walletA, 10)
	require.NoError(t, err)

	require.NoError(t, f.accounts.SetStatus(ctx, walletC, models.AccountStatusBanned))
	late := f.newTournament(t, func(in *CreateTournamentInput) { in.Name = "Late Cup" })
	_, err = f.tournaments.Join(ctx, late.ID, walletC, 10)
	assert.ErrorIs(t, err, NotEligible)
	assert.Equal(t, int64(90), f.balance(t, walletC, models.CurrencyExperience))
}

func TestSubmitScoreKeepsBest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, nil)
	f.enter(t, tr, walletA, 10)

	_, err := f.tournaments.SubmitScore(ctx, tr.ID, walletA, 5)
	assert.ErrorIs(t, err, InvalidState)

	_, err = f.tournaments.Start(ctx, tr.ID)
	require.NoError(t, err)

	p, err := f.tournaments.SubmitScore(ctx, tr.ID, walletA, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.Score)
	p, err = f.tournaments.SubmitScore(ctx, tr.ID, walletA, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(50), p.Score)

	_, err = f.tournaments.SubmitScore(ctx, tr.ID, walletA, -1)
	assert.ErrorIs(t, err, ValidationError)
	_, err = f.tournaments.SubmitScore(ctx, tr.ID, walletB, 10)
	assert.ErrorIs(t, err, NotFound)

	_, err = f.tournaments.Leave(ctx, tr.ID, walletA)
	assert.ErrorIs(t, err, InvalidState)
}

func TestCancelRefundsEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, nil)
	f.enter(t, tr, walletA, 40)
	f.enter(t, tr, walletB, 70)

	cancelled, err := f.tournaments.Cancel(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TournamentCancelled, cancelled.State)
	assert.Equal(t, int64(40), f.balance(t, walletA, models.CurrencyExperience))
	assert.Equal(t, int64(70), f.balance(t, walletB, models.CurrencyExperience))

	got, err := f.tournaments.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ParticipantsCount)

	_, err = f.tournaments.Cancel(ctx, tr.ID)
	assert.ErrorIs(t, err, InvalidState)
	_, err = f.tournaments.Start(ctx, tr.ID)
	assert.ErrorIs(t, err, InvalidState)
}

func TestSettleWinnerTakeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, nil)
	f.enter(t, tr, walletA, 10)
	f.enter(t, tr, walletB, 10)
	_, err := f.tournaments.Start(ctx, tr.ID)
	require.NoError(t, err)
	_, err = f.tournaments.SubmitScore(ctx, tr.ID, walletA, 10)
	require.NoError(t, err)
	_, err = f.tournaments.SubmitScore(ctx, tr.ID, walletB, 20)
	require.NoError(t, err)
	_, err = f.tournaments.End(ctx, tr.ID)
	require.NoError(t, err)

	res, err := f.tournaments.Settle(ctx, tr.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Pot)
	assert.Equal(t, models.TournamentSettled, res.Tournament.State)
	require.NotNil(t, res.Tournament.SettledAt)
	assert.True(t, strings.HasPrefix(res.Reference, "settlements/"+tr.Slug+"/"))

	require.Len(t, res.Participants, 2)
	winner := res.Participants[0]
	assert.Equal(t, walletB, winner.AccountAddress)
	assert.Equal(t, 1, *winner.FinalRank)
	assert.Equal(t, int64(1000), *winner.PrizeAmount)
	assert.True(t, winner.Paid)
	assert.Equal(t, int64(0), *res.Participants[1].PrizeAmount)
	assert.True(t, res.Participants[1].Paid)

	assert.Equal(t, int64(1000), f.balance(t, walletB, models.CurrencyPremium))
	assert.Equal(t, int64(0), f.balance(t, walletA, models.CurrencyPremium))
	// score mode consumes the escrow
	assert.Equal(t, int64(0), f.balance(t, walletA, models.CurrencyExperience))

	_, err = f.tournaments.Settle(ctx, tr.ID, nil)
	assert.ErrorIs(t, err, AlreadySettled)
	assert.Equal(t, int64(1000), f.balance(t, walletB, models.CurrencyPremium))

	// receipt
	assert.Equal(t, "https://cdn.test/"+res.Reference, res.ReceiptURL)
	body, ok := f.archive.puts[res.Reference]
	require.True(t, ok)
	var receipt SettlementResult
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, int64(1000), receipt.Pot)
	assert.Equal(t, models.PrizeWinnerTakeAll, receipt.Rule.Kind)

	settled := f.notifier.Events(EventTournamentSettled)
	require.Len(t, settled, 1)
	assert.Equal(t, tr.ID, settled[0].TournamentID)
	assert.Equal(t, int64(1000), settled[0].Amount)
	assert.Contains(t, settled[0].Message, "1,000")
}

func TestSettleCoinPoolProportional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, func(in *CreateTournamentInput) {
		in.Mode = models.ModeCoinPool
		in.PrizePool = 100
		in.PrizeRule = models.PrizeProportional
	})
	f.enter(t, tr, walletC, 100)
	f.enter(t, tr, walletA, 300)
	f.enter(t, tr, walletB, 200)
	_, err := f.tournaments.Start(ctx, tr.ID)
	require.NoError(t, err)
	_, err = f.tournaments.End(ctx, tr.ID)
	require.NoError(t, err)

	res, err := f.tournaments.Settle(ctx, tr.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.Pot)

	// ranked by coins burned; the rounding dust goes to rank 1
	assert.Equal(t, int64(351), f.balance(t, walletA, models.CurrencyPremium))
	assert.Equal(t, int64(233), f.balance(t, walletB, models.CurrencyPremium))
	assert.Equal(t, int64(116), f.balance(t, walletC, models.CurrencyPremium))

	var paid int64
	for _, p := range res.Participants {
		paid += *p.PrizeAmount
	}
	assert.Equal(t, res.Pot, paid)
}

func TestSettleWithRuleOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, func(in *CreateTournamentInput) { in.PrizePool = 500 })
	f.enter(t, tr, walletA, 10)
	f.enter(t, tr, walletB, 10)
	f.enter(t, tr, walletC, 10)
	_, err := f.tournaments.Start(ctx, tr.ID)
	require.NoError(t, err)
	for addr, score := range map[string]int64{walletA: 3, walletB: 2, walletC: 1} {
		_, err := f.tournaments.SubmitScore(ctx, tr.ID, addr, score)
		require.NoError(t, err)
	}
	_, err = f.tournaments.End(ctx, tr.ID)
	require.NoError(t, err)

	_, err = f.tournaments.Settle(ctx, tr.ID, &PrizeRule{Kind: models.PrizeFixed})
	assert.ErrorIs(t, err, ValidationError)
	assert.Equal(t, models.TournamentEnded, f.state(t, tr.ID))

	res, err := f.tournaments.Settle(ctx, tr.ID, &PrizeRule{Kind: models.PrizeFixed, TableBps: []int64{7000, 2000}})
	require.NoError(t, err)
	assert.Equal(t, int64(350), f.balance(t, walletA, models.CurrencyPremium))
	assert.Equal(t, int64(100), f.balance(t, walletB, models.CurrencyPremium))
	assert.Equal(t, int64(0), f.balance(t, walletC, models.CurrencyPremium))
	assert.Equal(t, models.PrizeFixed, res.Tournament.PrizeRule)
	assert.Equal(t, []int64{7000, 2000}, []int64(res.Tournament.PrizeTableBps))
}

func TestSettleResumesAfterFailedPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, func(in *CreateTournamentInput) {
		in.PrizePool = 900
		in.PrizeRule = models.PrizeProportional
	})
	f.enter(t, tr, walletA, 10)
	f.enter(t, tr, walletB, 10)
	_, err := f.tournaments.Start(ctx, tr.ID)
	require.NoError(t, err)
	_, err = f.tournaments.SubmitScore(ctx, tr.ID, walletA, 20)
	require.NoError(t, err)
	_, err = f.tournaments.SubmitScore(ctx, tr.ID, walletB, 10)
	require.NoError(t, err)
	_, err = f.tournaments.End(ctx, tr.ID)
	require.NoError(t, err)

	// break walletB's balance row so its payout fails after walletA is paid
	require.NoError(t, f.db.Exec("UPDATE coin_balances SET total = total + 1 WHERE account_address = ?", walletB).Error)
	_, err = f.tournaments.Settle(ctx, tr.ID, nil)
	assert.ErrorIs(t, err, InternalConsistencyError)
	assert.Equal(t, models.TournamentSettling, f.state(t, tr.ID))
	assert.Equal(t, int64(601), f.balance(t, walletA, models.CurrencyPremium))

	// scores changing now must not move the stored ranks
	require.NoError(t, f.db.Model(&models.TournamentParticipant{}).
		Where("account_address = ?", walletB).Update("score", 99).Error)
	require.NoError(t, f.db.Exec("UPDATE coin_balances SET total = total - 1 WHERE account_address = ?", walletB).Error)

	// the stored rule is fixed once settling has begun
	_, err = f.tournaments.Settle(ctx, tr.ID, &PrizeRule{Kind: models.PrizeWinnerTakeAll})
	assert.ErrorIs(t, err, InvalidState)
	assert.Equal(t, models.TournamentSettling, f.state(t, tr.ID))

	res, err := f.tournaments.Settle(ctx, tr.ID, &PrizeRule{Kind: models.PrizeProportional})
	require.NoError(t, err)
	assert.Equal(t, models.TournamentSettled, res.Tournament.State)
	assert.Equal(t, int64(900), res.Pot)
	assert.Equal(t, int64(601), f.balance(t, walletA, models.CurrencyPremium))
	assert.Equal(t, int64(299), f.balance(t, walletB, models.CurrencyPremium))

	hist, err := f.ledger.History(ctx, walletA, models.CurrencyPremium, 10)
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestSettleWithoutParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.newTournament(t, nil)
	_, err := f.tournaments.Start(ctx, tr.ID)
	require.NoError(t, err)
	_, err = f.tournaments.End(ctx, tr.ID)
	require.NoError(t, err)

	res, err := f.tournaments.Settle(ctx, tr.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Participants)
	assert.Equal(t, models.TournamentSettled, res.Tournament.State)
}

func TestRankTieBreaks(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ps := []models.TournamentParticipant{
		{AccountAddress: walletC, Score: 5, JoinedAt: early},
		{AccountAddress: walletB, Score: 5, JoinedAt: early.Add(time.Minute)},
		{AccountAddress: walletA, Score: 5, JoinedAt: early},
		{AccountAddress: walletD, Score: 9, JoinedAt: early.Add(time.Hour)},
	}
	rank(models.ModeScore, ps)

	var order []string
	for _, p := range ps {
		order = append(order, p.AccountAddress)
	}
	assert.Equal(t, []string{walletD, walletA, walletC, walletB}, order)
}
