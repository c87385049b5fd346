// handlers/errors.go
package handlers

import (
	"game-economy/services"
	"game-economy/utils"

	"github.com/gofiber/fiber/v2"
)

type errorMapping struct {
	status int
	code   string
}

var kindMappings = map[services.Kind]errorMapping{
	services.NotFound:                 {fiber.StatusNotFound, "not_found"},
	services.UnknownAccount:           {fiber.StatusNotFound, "unknown_account"},
	services.InsufficientFunds:        {fiber.StatusUnprocessableEntity, "insufficient_funds"},
	services.InvalidState:             {fiber.StatusConflict, "invalid_state"},
	services.AlreadyJoined:            {fiber.StatusConflict, "already_joined"},
	services.AlreadySettled:           {fiber.StatusConflict, "already_settled"},
	services.BelowMinimum:             {fiber.StatusUnprocessableEntity, "below_minimum"},
	services.NotEligible:              {fiber.StatusForbidden, "not_eligible"},
	services.CapacityReached:          {fiber.StatusConflict, "capacity_reached"},
	services.ValidationError:          {fiber.StatusBadRequest, "validation_error"},
	services.InternalConsistencyError: {fiber.StatusInternalServerError, "internal_consistency_error"},
}

// respondError writes err as {"error", "code"} with the status of its kind.
// Errors without a kind are storage or programming failures and are logged.
func respondError(c *fiber.Ctx, err error) error {
	if m, ok := kindMappings[services.KindOf(err)]; ok {
		return c.Status(m.status).JSON(fiber.Map{"error": err.Error(), "code": m.code})
	}
	utils.Logger.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"code":  "internal",
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": "validation_error"})
}
