// handlers/routes.go
package handlers

import (
	"game-economy/middleware"
	"game-economy/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services bundles what the HTTP surface calls into.
type Services struct {
	Accounts    *services.AccountDirectory
	Ledger      *services.LedgerService
	Tournaments *services.TournamentService
	Referrals   *services.ReferralService
}

// SetupMetricsRoute must be registered before the gateway middleware so the
// scraper does not need the service token.
func SetupMetricsRoute(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// SetupRoutes mounts every economy route. Player routes live under /s and
// require the gateway identity; operator routes live under /s/admin.
func SetupRoutes(app *fiber.App, svc Services) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	secured := app.Group("/s", middleware.WalletContextMiddleware(), middleware.ActivityMiddleware(svc.Accounts.Touch))
	admin := secured.Group("/admin", middleware.RequireRole("admin"))

	SetupLedgerRoutes(secured, admin, svc.Ledger)
	SetupTournamentRoutes(app, secured, admin, svc.Tournaments)
	SetupReferralRoutes(secured, admin, svc.Accounts, svc.Referrals)
}
