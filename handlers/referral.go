// handlers/referral.go
package handlers

import (
	"game-economy/middleware"
	"game-economy/models"
	"game-economy/services"

	"github.com/gofiber/fiber/v2"
)

type createAccountRequest struct {
	WalletAddress   string `json:"wallet_address" validate:"required"`
	ReferrerAddress string `json:"referrer_address"`
}

type statusRequest struct {
	Status models.AccountStatus `json:"status" validate:"required,oneof=standard premium banned"`
}

func SetupReferralRoutes(secured, admin fiber.Router, accounts *services.AccountDirectory, referrals *services.ReferralService) {
	secured.Get("/referrals/summary", func(c *fiber.Ctx) error {
		sum, err := referrals.Summary(c.UserContext(), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(sum)
	})
	secured.Post("/referrals/refresh", func(c *fiber.Ctx) error {
		sum, err := referrals.Refresh(c.UserContext(), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(sum)
	})
	secured.Get("/referrals/tree", func(c *fiber.Ctx) error {
		tree, err := referrals.BuildSubtree(c.UserContext(), middleware.Wallet(c), c.QueryInt("depth", 0))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(tree)
	})
	secured.Get("/referrals/capacity", func(c *fiber.Ctx) error {
		capacity, err := referrals.RewardCapacity(c.UserContext(), middleware.Wallet(c), referrals.Now())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"wallet_address": middleware.Wallet(c), "stamina": capacity})
	})

	admin.Post("/accounts", func(c *fiber.Ctx) error {
		var req createAccountRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := services.Validate(req); err != nil {
			return respondError(c, err)
		}
		acct, err := accounts.Create(c.UserContext(), req.WalletAddress, req.ReferrerAddress)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(acct)
	})
	admin.Patch("/accounts/:address/status", func(c *fiber.Ctx) error {
		var req statusRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := services.Validate(req); err != nil {
			return respondError(c, err)
		}
		if err := accounts.SetStatus(c.UserContext(), c.Params("address"), req.Status); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"wallet_address": c.Params("address"), "status": req.Status})
	})
	admin.Get("/referrals/:address/summary", func(c *fiber.Ctx) error {
		sum, err := referrals.Summary(c.UserContext(), c.Params("address"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(sum)
	})
}
