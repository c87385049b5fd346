package services

import (
	"context"
	"testing"
	"time"

	"game-economy/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaminaLadder(t *testing.T) {
	cases := []struct {
		name string
		in   StaminaInput
		want int
	}{
		{"banned beats everything", StaminaInput{Banned: true, AgeDays: 5, TotalEq: 9}, 0},
		{"newcomer", StaminaInput{AgeDays: 29, TotalEq: 4}, 2000},
		{"two legs", StaminaInput{AgeDays: 30, TotalEq: 2}, 2500},
		{"two legs veteran", StaminaInput{AgeDays: 400, TotalEq: 7}, 2500},
		{"one leg young", StaminaInput{AgeDays: 90, TotalEq: 1}, 1500},
		{"one leg old", StaminaInput{AgeDays: 91, TotalEq: 1}, 500},
		{"no legs veteran", StaminaInput{AgeDays: 91}, 500},
		{"no legs middle age", StaminaInput{AgeDays: 45}, 1600},
		{"no legs at ninety days", StaminaInput{AgeDays: 90}, 1600},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Stamina(tc.in))
		})
	}
}

func TestRewardCapacityUsesAccountFacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	// 60 days old with one child on each side: total_eq 1
	f.createAccount(t, walletA, "", now.Add(-60*24*time.Hour))
	f.createAccount(t, walletB, walletA, now.Add(-10*24*time.Hour))
	f.createAccount(t, walletC, walletA, now.Add(-9*24*time.Hour))

	capacity, err := f.referrals.RewardCapacity(ctx, walletA, now)
	require.NoError(t, err)
	assert.Equal(t, 1500, capacity)

	capacity, err = f.referrals.RewardCapacity(ctx, walletB, now)
	require.NoError(t, err)
	assert.Equal(t, 2000, capacity)

	require.NoError(t, f.accounts.SetStatus(ctx, walletA, models.AccountStatusBanned))
	capacity, err = f.referrals.RewardCapacity(ctx, walletA, now)
	require.NoError(t, err)
	assert.Equal(t, 0, capacity)

	_, err = f.referrals.RewardCapacity(ctx, walletD, now)
	assert.ErrorIs(t, err, UnknownAccount)
}
