package handlers

import (
	"game-economy/middleware"
	"game-economy/models"
	"game-economy/services"

	"github.com/gofiber/fiber/v2"
)

type joinRequest struct {
	Amount int64 `json:"amount" validate:"required"`
}

type scoreRequest struct {
	Score int64 `json:"score" validate:"gte=0"`
}

type settleRequest struct {
	Rule *services.PrizeRule `json:"rule,omitempty"`
}

func SetupTournamentRoutes(public, secured, admin fiber.Router, tournaments *services.TournamentService) {
	// 🔓 Public
	public.Get("/tournaments", func(c *fiber.Ctx) error {
		list, err := tournaments.List(c.UserContext(), models.TournamentState(c.Query("state")), c.QueryInt("limit", 50))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"tournaments": list})
	})
	public.Get("/tournaments/:id", func(c *fiber.Ctx) error {
		t, err := tournaments.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(t)
	})
	public.Get("/tournaments/:id/participants", func(c *fiber.Ctx) error {
		ps, err := tournaments.Participants(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"participants": ps})
	})

	// 🔐 Player
	secured.Post("/tournaments/:id/join", func(c *fiber.Ctx) error {
		var req joinRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if err := services.Validate(req); err != nil {
			return respondError(c, err)
		}
		p, err := tournaments.Join(c.UserContext(), c.Params("id"), middleware.Wallet(c), req.Amount)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(p)
	})
	secured.Post("/tournaments/:id/leave", func(c *fiber.Ctx) error {
		refund, err := tournaments.Leave(c.UserContext(), c.Params("id"), middleware.Wallet(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"refund": refund})
	})
	secured.Post("/tournaments/:id/score", func(c *fiber.Ctx) error {
		var req scoreRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		p, err := tournaments.SubmitScore(c.UserContext(), c.Params("id"), middleware.Wallet(c), req.Score)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(p)
	})

	// 🔒 Operator
	admin.Post("/tournaments", func(c *fiber.Ctx) error {
		var in services.CreateTournamentInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid request body")
		}
		t, err := tournaments.Create(c.UserContext(), in)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(t)
	})
	admin.Post("/tournaments/:id/start", func(c *fiber.Ctx) error {
		return respondTournament(c)(tournaments.Start(c.UserContext(), c.Params("id")))
	})
	admin.Post("/tournaments/:id/end", func(c *fiber.Ctx) error {
		return respondTournament(c)(tournaments.End(c.UserContext(), c.Params("id")))
	})
	admin.Post("/tournaments/:id/cancel", func(c *fiber.Ctx) error {
		return respondTournament(c)(tournaments.Cancel(c.UserContext(), c.Params("id")))
	})
	admin.Post("/tournaments/:id/settle", func(c *fiber.Ctx) error {
		var req settleRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "invalid request body")
			}
		}
		res, err := tournaments.Settle(c.UserContext(), c.Params("id"), req.Rule)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}

func respondTournament(c *fiber.Ctx) func(*models.Tournament, error) error {
	return func(t *models.Tournament, err error) error {
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(t)
	}
}
