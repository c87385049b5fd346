// middleware/auth.go
package middleware

import (
	"context"
	"strings"

	"game-economy/utils"

	"github.com/gofiber/fiber/v2"
)

const (
	WalletAddressKey = "wallet_address"
	UserRolesKey     = "user_roles"
)

// WalletContextMiddleware reads the identity the gateway has already verified.
// Routes under /s/ require X-Wallet-Address.
func WalletContextMiddleware() fiber.Handler {
	log := utils.Component("wallet_ctx")
	return func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Get("X-Wallet-Address"))
		rolesStr := c.Get("X-User-Roles")

		if strings.HasPrefix(c.Path(), "/s/") && wallet == "" {
			log.Warn().Str("path", c.Path()).Msg("X-Wallet-Address missing on secured route")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Wallet-Address, request must come through gateway with auth context",
				"code":  "unauthorized",
			})
		}
		if wallet != "" && !utils.IsWalletAddress(wallet) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "malformed X-Wallet-Address",
				"code":  "validation_error",
			})
		}

		var roles []string
		for _, r := range strings.Split(rolesStr, ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(WalletAddressKey, wallet)
		c.Locals(UserRolesKey, roles)
		return c.Next()
	}
}

// RequireRole rejects requests whose gateway roles do not include role.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roles, _ := c.Locals(UserRolesKey).([]string)
		for _, r := range roles {
			if r == role {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": role + " role required",
			"code":  "forbidden",
		})
	}
}

// Wallet returns the caller's wallet address set by WalletContextMiddleware.
func Wallet(c *fiber.Ctx) string {
	w, _ := c.Locals(WalletAddressKey).(string)
	return w
}

// ActivityMiddleware records the caller as active once a secured request has
// succeeded. Failures are logged and never change the response.
func ActivityMiddleware(touch func(ctx context.Context, wallet string) error) fiber.Handler {
	log := utils.Component("activity")
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}
		wallet := Wallet(c)
		if wallet == "" || c.Response().StatusCode() >= fiber.StatusBadRequest {
			return nil
		}
		if err := touch(c.UserContext(), wallet); err != nil {
			log.Warn().Err(err).Str("wallet", wallet).Msg("failed to record activity")
		}
		return nil
	}
}
