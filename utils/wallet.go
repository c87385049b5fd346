// utils/wallet.go
package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsWalletAddress reports whether s is "0x" followed by 40 hex characters.
// The address is compared case-sensitively elsewhere, so nothing is normalised here.
func IsWalletAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	return common.IsHexAddress(s)
}
