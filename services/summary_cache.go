package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"game-economy/models"

	"github.com/redis/go-redis/v9"
)

// SummaryCache is a read-through cache in front of referral_balance_summaries.
// A miss is (nil, nil).
type SummaryCache interface {
	Get(ctx context.Context, account string) (*models.ReferralBalanceSummary, error)
	Set(ctx context.Context, s *models.ReferralBalanceSummary) error
}

// RedisSummaryCache stores summaries as JSON under "<prefix><address>".
type RedisSummaryCache struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisSummaryCache(client *redis.Client, ttl time.Duration) *RedisSummaryCache {
	return &RedisSummaryCache{Client: client, TTL: ttl, Prefix: "economy:referral_summary:"}
}

func (c *RedisSummaryCache) key(account string) string {
	return c.Prefix + account
}

func (c *RedisSummaryCache) Get(ctx context.Context, account string) (*models.ReferralBalanceSummary, error) {
	raw, err := c.Client.Get(ctx, c.key(account)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", account, err)
	}
	var s models.ReferralBalanceSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode cached summary for %s: %w", account, err)
	}
	return &s, nil
}

func (c *RedisSummaryCache) Set(ctx context.Context, s *models.ReferralBalanceSummary) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.Client.Set(ctx, c.key(s.AccountAddress), raw, c.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.AccountAddress, err)
	}
	return nil
}
