package models

import "time"

// ReferralBalanceSummary caches the referral tree numbers for one account.
// It is derived data; services.ReferralService.Refresh is the only writer.
type ReferralBalanceSummary struct {
	AccountAddress   string    `gorm:"primaryKey;type:varchar(42)" json:"account_address"`
	DirectReferrals  int64     `gorm:"not null;default:0" json:"direct_referrals"`
	TotalReferrals   int64     `gorm:"not null;default:0" json:"total_referrals"`
	LeftCount        int64     `gorm:"not null;default:0" json:"left_count"`
	RightCount       int64     `gorm:"not null;default:0" json:"right_count"`
	EquilibriumPoint int64     `gorm:"not null;default:0" json:"equilibrium_point"`
	TotalEq          int64     `gorm:"not null;default:0" json:"total_eq"`
	IsBalanced       bool      `gorm:"not null;default:false" json:"is_balanced"`
	Truncated        bool      `gorm:"not null;default:false" json:"truncated"` // node cap hit while counting
	RefreshedAt      time.Time `gorm:"not null" json:"refreshed_at"`
}

// ReferralNode is one account in a BuildSubtree result.
type ReferralNode struct {
	WalletAddress   string          `json:"wallet_address"`
	CreatedAt       time.Time       `json:"created_at"`
	Depth           int             `json:"depth"`
	DirectReferrals int64           `json:"direct_referrals"`
	Children        []*ReferralNode `json:"children,omitempty"`
}

// Count returns the number of nodes in the tree rooted at n, n included.
func (n *ReferralNode) Count() int {
	if n == nil {
		return 0
	}
	c := 1
	for _, child := range n.Children {
		c += child.Count()
	}
	return c
}
