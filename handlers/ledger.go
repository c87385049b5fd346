// handlers/ledger.go
package handlers

import (
	"game-economy/middleware"
	"game-economy/models"
	"game-economy/services"

	"github.com/gofiber/fiber/v2"
)

type transferRequest struct {
	To       string          `json:"to" validate:"required"`
	Currency models.Currency `json:"currency" validate:"required"`
	Amount   int64           `json:"amount" validate:"required"`
}

type ledgerMutationRequest struct {
	Account     string                   `json:"account" validate:"required"`
	Currency    models.Currency          `json:"currency" validate:"required"`
	Amount      int64                    `json:"amount" validate:"required"`
	Source      models.TransactionSource `json:"source"`
	Description string                   `json:"description" validate:"max=255"`
}

// SetupLedgerRoutes mounts wallet routes on secured (/s) and operator routes on admin (/s/admin).
func SetupLedgerRoutes(secured, admin fiber.Router, ledger *services.LedgerService) {
	secured.Get("/wallet/balance", func(c *fiber.Ctx) error {
		bal, err := ledger.Balance(c.UserContext(), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(bal)
	})

	secured.Get("/wallet/history", func(c *fiber.Ctx) error {
		txs, err := ledger.History(c.UserContext(), middleware.Wallet(c), models.Currency(c.Query("currency")), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"transactions": txs})
	})

	secured.Post("/wallet/transfer", func(c *fiber.Ctx) error {
		var req transferRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := services.Validate(req); err != nil {
			return respondError(c, err)
		}
		debit, credit, err := ledger.Transfer(c.UserContext(), middleware.Wallet(c), req.To, req.Currency, req.Amount)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"debit": debit, "credit": credit})
	})

	admin.Post("/ledger/credit", func(c *fiber.Ctx) error {
		var req ledgerMutationRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := services.Validate(req); err != nil {
			return respondError(c, err)
		}
		if req.Source == "" {
			req.Source = models.SourceAdmin
		}
		tx, err := ledger.Credit(c.UserContext(), req.Account, req.Currency, req.Amount, req.Source, req.Description)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(tx)
	})

	admin.Post("/ledger/debit", func(c *fiber.Ctx) error {
		var req ledgerMutationRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := services.Validate(req); err != nil {
			return respondError(c, err)
		}
		if req.Source == "" {
			req.Source = models.SourceAdmin
		}
		tx, err := ledger.Debit(c.UserContext(), req.Account, req.Currency, req.Amount, req.Source, req.Description)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(tx)
	})

	admin.Get("/ledger/:address/balance", func(c *fiber.Ctx) error {
		bal, err := ledger.Balance(c.UserContext(), c.Params("address"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(bal)
	})
}
