package services

import (
	"slices"

	"game-economy/models"
)

const fullShareBps int64 = 10000

// PrizeRule is the operator's choice of how the pot is split by rank.
type PrizeRule struct {
	Kind     models.PrizeRuleKind `json:"kind" validate:"required,oneof=winner_take_all proportional fixed"`
	TableBps []int64              `json:"table_bps,omitempty"` // fixed only; index 0 is rank 1
}

// Same reports whether two rules split a pot identically. The table only
// matters for fixed rules.
func (r PrizeRule) Same(o PrizeRule) bool {
	if r.Kind != o.Kind {
		return false
	}
	return r.Kind != models.PrizeFixed || slices.Equal(r.TableBps, o.TableBps)
}

// Validate checks the rule in isolation.
func (r PrizeRule) Validate() error {
	switch r.Kind {
	case models.PrizeWinnerTakeAll, models.PrizeProportional:
		return nil
	case models.PrizeFixed:
		if len(r.TableBps) == 0 {
			return ValidationError.Errorf("fixed prize rule needs a bps table")
		}
		var sum int64
		for i, bps := range r.TableBps {
			if bps < 0 {
				return ValidationError.Errorf("rank %d share is negative", i+1)
			}
			sum += bps
		}
		if sum > fullShareBps {
			return ValidationError.Errorf("prize table sums to %d bps, more than %d", sum, fullShareBps)
		}
		return nil
	default:
		return ValidationError.Errorf("unknown prize rule %q", r.Kind)
	}
}

// Shares returns the bps share for ranks 1..n.
func (r PrizeRule) Shares(n int) ([]int64, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	shares := make([]int64, n)
	if n == 0 {
		return shares, nil
	}

	switch r.Kind {
	case models.PrizeWinnerTakeAll:
		shares[0] = fullShareBps

	case models.PrizeProportional:
		// rank i weighs n-i+1; total weight n(n+1)/2
		total := int64(n) * int64(n+1) / 2
		var sum int64
		for i := 0; i < n; i++ {
			shares[i] = fullShareBps * int64(n-i) / total
			sum += shares[i]
		}
		shares[0] += fullShareBps - sum

	case models.PrizeFixed:
		for i := 0; i < n && i < len(r.TableBps); i++ {
			shares[i] = r.TableBps[i]
		}
	}
	return shares, nil
}

// Distribute turns bps shares into amounts of pot. Each amount is rounded
// down; when the shares cover the whole pot, rank 1 receives the remainder.
func Distribute(pot int64, shares []int64) []int64 {
	amounts := make([]int64, len(shares))
	var bpsSum, paid int64
	for i, bps := range shares {
		amounts[i] = mulBps(pot, bps)
		bpsSum += bps
		paid += amounts[i]
	}
	if len(amounts) > 0 && bpsSum == fullShareBps {
		amounts[0] += pot - paid
	}
	return amounts
}

// mulBps is floor(pot*bps/10000) without overflowing for large pots.
func mulBps(pot, bps int64) int64 {
	q, r := pot/fullShareBps, pot%fullShareBps
	return q*bps + r*bps/fullShareBps
}

func ruleFromTournament(t *models.Tournament) PrizeRule {
	return PrizeRule{Kind: t.PrizeRule, TableBps: []int64(t.PrizeTableBps)}
}
