package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"game-economy/models"
	"game-economy/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultReferralDepth   = 5
	DefaultMaxVisitedNodes = 10000
	referralQueryChunk     = 500 // keeps IN lists under driver parameter limits
)

// ReferralService walks the referral tree (accounts.referrer_address) and
// maintains referral_balance_summaries.
type ReferralService struct {
	DB              *gorm.DB
	Accounts        *AccountDirectory
	Cache           SummaryCache // optional
	MaxDepth        int
	MaxVisitedNodes int
	Now             func() time.Time

	log zerolog.Logger
}

func NewReferralService(db *gorm.DB, accounts *AccountDirectory, cache SummaryCache) *ReferralService {
	return &ReferralService{
		DB:              db,
		Accounts:        accounts,
		Cache:           cache,
		MaxDepth:        DefaultReferralDepth,
		MaxVisitedNodes: DefaultMaxVisitedNodes,
		Now:             time.Now,
		log:             utils.Component("referral"),
	}
}

type referralRow struct {
	WalletAddress   string
	ReferrerAddress string
	CreatedAt       time.Time
}

// children loads the direct referrals of parents, oldest first.
func (s *ReferralService) children(ctx context.Context, parents []string) ([]referralRow, error) {
	var out []referralRow
	for start := 0; start < len(parents); start += referralQueryChunk {
		end := start + referralQueryChunk
		if end > len(parents) {
			end = len(parents)
		}
		var rows []referralRow
		err := s.DB.WithContext(ctx).Model(&models.Account{}).
			Select("wallet_address, referrer_address, created_at").
			Where("referrer_address IN ?", parents[start:end]).
			Order("created_at ASC, wallet_address ASC").
			Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("load referrals: %w", err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (s *ReferralService) maxNodes() int {
	if s.MaxVisitedNodes <= 0 {
		return DefaultMaxVisitedNodes
	}
	return s.MaxVisitedNodes
}

// BuildSubtree returns root and its referrals down to maxDepth levels,
// breadth first with one query per level. maxDepth <= 0 uses the service default.
// The tree stops growing once MaxVisitedNodes accounts have been visited.
func (s *ReferralService) BuildSubtree(ctx context.Context, root string, maxDepth int) (*models.ReferralNode, error) {
	if err := validateAddress(root); err != nil {
		return nil, err
	}
	if maxDepth <= 0 {
		maxDepth = s.MaxDepth
		if maxDepth <= 0 {
			maxDepth = DefaultReferralDepth
		}
	}
	acct, err := s.Accounts.Get(ctx, root)
	if err != nil {
		return nil, err
	}

	rootNode := &models.ReferralNode{WalletAddress: acct.WalletAddress, CreatedAt: acct.CreatedAt}
	nodes := map[string]*models.ReferralNode{root: rootNode}
	level := []string{root}
	limit := s.maxNodes()

	for depth := 1; depth <= maxDepth && len(level) > 0 && len(nodes) < limit; depth++ {
		rows, err := s.children(ctx, level)
		if err != nil {
			return nil, err
		}
		next := make([]string, 0, len(rows))
		for _, r := range rows {
			if _, seen := nodes[r.WalletAddress]; seen {
				continue
			}
			if len(nodes) >= limit {
				break
			}
			n := &models.ReferralNode{WalletAddress: r.WalletAddress, CreatedAt: r.CreatedAt, Depth: depth}
			parent := nodes[r.ReferrerAddress]
			parent.Children = append(parent.Children, n)
			nodes[r.WalletAddress] = n
			next = append(next, r.WalletAddress)
		}
		level = next
	}

	if err := s.fillDirectCounts(ctx, nodes); err != nil {
		return nil, err
	}
	return rootNode, nil
}

// fillDirectCounts sets DirectReferrals from the accounts table, so nodes on
// the last level still report their real count.
func (s *ReferralService) fillDirectCounts(ctx context.Context, nodes map[string]*models.ReferralNode) error {
	addrs := make([]string, 0, len(nodes))
	for a := range nodes {
		addrs = append(addrs, a)
	}
	type countRow struct {
		ReferrerAddress string
		N               int64
	}
	for start := 0; start < len(addrs); start += referralQueryChunk {
		end := start + referralQueryChunk
		if end > len(addrs) {
			end = len(addrs)
		}
		var rows []countRow
		err := s.DB.WithContext(ctx).Model(&models.Account{}).
			Select("referrer_address, COUNT(*) AS n").
			Where("referrer_address IN ?", addrs[start:end]).
			Group("referrer_address").
			Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("count direct referrals: %w", err)
		}
		for _, r := range rows {
			if n, ok := nodes[r.ReferrerAddress]; ok {
				n.DirectReferrals = r.N
			}
		}
	}
	return nil
}

// treeStats is the result of one full walk below an account.
type treeStats struct {
	Direct    int64
	Total     int64
	LeftLeg   int64
	RightLeg  int64
	Truncated bool
}

// walk counts every descendant of root. Direct referrals are assigned to the
// left and right legs alternately in join order; every deeper account counts
// toward the leg of its top-level ancestor.
func (s *ReferralService) walk(ctx context.Context, root string) (treeStats, error) {
	var st treeStats
	visited := map[string]bool{root: true}
	leg := map[string]int{} // 0 left, 1 right
	level := []string{root}
	limit := s.maxNodes()

	for depth := 1; len(level) > 0; depth++ {
		rows, err := s.children(ctx, level)
		if err != nil {
			return st, err
		}
		next := make([]string, 0, len(rows))
		for _, r := range rows {
			if visited[r.WalletAddress] {
				continue
			}
			if st.Total >= int64(limit) {
				st.Truncated = true
				break
			}
			visited[r.WalletAddress] = true
			st.Total++

			var side int
			if depth == 1 {
				side = int(st.Direct % 2)
				st.Direct++
			} else {
				side = leg[r.ReferrerAddress]
			}
			leg[r.WalletAddress] = side
			if side == 0 {
				st.LeftLeg++
			} else {
				st.RightLeg++
			}
			next = append(next, r.WalletAddress)
		}
		if st.Truncated {
			break
		}
		level = next
	}
	return st, nil
}

// CountTotalReferrals counts all direct and indirect referrals of root.
// truncated is set when the node cap stopped the walk.
func (s *ReferralService) CountTotalReferrals(ctx context.Context, root string) (count int64, truncated bool, err error) {
	if err := validateAddress(root); err != nil {
		return 0, false, err
	}
	st, err := s.walk(ctx, root)
	if err != nil {
		return 0, false, err
	}
	return st.Total, st.Truncated, nil
}

// Refresh recomputes and stores the summary for account.
func (s *ReferralService) Refresh(ctx context.Context, account string) (*models.ReferralBalanceSummary, error) {
	if err := validateAddress(account); err != nil {
		return nil, err
	}
	if _, err := s.Accounts.Get(ctx, account); err != nil {
		return nil, err
	}

	timer := prometheus.NewTimer(utils.ReferralRefreshDuration)
	st, err := s.walk(ctx, account)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}

	sum := &models.ReferralBalanceSummary{
		AccountAddress:   account,
		DirectReferrals:  st.Direct,
		TotalReferrals:   st.Total,
		LeftCount:        st.Total / 2,
		RightCount:       st.Total - st.Total/2,
		EquilibriumPoint: st.Total,
		TotalEq:          min(st.LeftLeg, st.RightLeg),
		IsBalanced:       st.Direct == st.Total,
		Truncated:        st.Truncated,
		RefreshedAt:      s.Now(),
	}
	if st.Truncated {
		s.log.Warn().Str("account", account).Int("max_nodes", s.maxNodes()).Msg("referral walk truncated")
	}

	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_address"}},
		UpdateAll: true,
	}).Create(sum).Error
	if err != nil {
		return nil, fmt.Errorf("store referral summary for %s: %w", account, err)
	}

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, sum); err != nil {
			s.log.Warn().Err(err).Str("account", account).Msg("cache write failed")
		}
	}
	return sum, nil
}

// Summary returns the stored summary, computing it on first use.
func (s *ReferralService) Summary(ctx context.Context, account string) (*models.ReferralBalanceSummary, error) {
	if err := validateAddress(account); err != nil {
		return nil, err
	}
	if s.Cache != nil {
		cached, err := s.Cache.Get(ctx, account)
		if err != nil {
			s.log.Warn().Err(err).Str("account", account).Msg("cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	var sum models.ReferralBalanceSummary
	err := s.DB.WithContext(ctx).First(&sum, "account_address = ?", account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.Refresh(ctx, account)
	}
	if err != nil {
		return nil, fmt.Errorf("load referral summary for %s: %w", account, err)
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, &sum); err != nil {
			s.log.Warn().Err(err).Str("account", account).Msg("cache write failed")
		}
	}
	return &sum, nil
}

// RewardCapacity applies Stamina to the account's current facts.
func (s *ReferralService) RewardCapacity(ctx context.Context, account string, now time.Time) (int, error) {
	acct, err := s.Accounts.Get(ctx, account)
	if err != nil {
		return 0, err
	}
	if acct.IsBanned() {
		return Stamina(StaminaInput{Banned: true}), nil
	}
	sum, err := s.Summary(ctx, account)
	if err != nil {
		return 0, err
	}
	return Stamina(StaminaInput{AgeDays: acct.AgeDays(now), TotalEq: sum.TotalEq}), nil
}

// RefreshStale recomputes up to limit summaries: accounts that refer someone
// but have no summary yet first, then summaries older than before.
func (s *ReferralService) RefreshStale(ctx context.Context, before time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	var targets []string
	err := s.DB.WithContext(ctx).Model(&models.Account{}).
		Distinct("referrer_address").
		Where("referrer_address IS NOT NULL").
		Where("referrer_address NOT IN (?)", s.DB.Model(&models.ReferralBalanceSummary{}).Select("account_address")).
		Limit(limit).
		Pluck("referrer_address", &targets).Error
	if err != nil {
		return 0, fmt.Errorf("find unsummarised referrers: %w", err)
	}
	if len(targets) < limit {
		var stale []string
		err := s.DB.WithContext(ctx).Model(&models.ReferralBalanceSummary{}).
			Where("refreshed_at < ?", before).
			Order("refreshed_at ASC").
			Limit(limit-len(targets)).
			Pluck("account_address", &stale).Error
		if err != nil {
			return 0, fmt.Errorf("find stale summaries: %w", err)
		}
		targets = append(targets, stale...)
	}

	refreshed := 0
	for _, addr := range targets {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.Refresh(ctx, addr); err != nil {
			if errors.Is(err, UnknownAccount) || errors.Is(err, ValidationError) {
				continue
			}
			return refreshed, err
		}
		refreshed++
	}
	return refreshed, nil
}
