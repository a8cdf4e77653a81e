package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/analytical-agent/backend/pkg/apperr"
)

// writeError renders the uniform error payload and maps the error kind
// to an HTTP status.
func writeError(c *fiber.Ctx, err error) error {
	return c.Status(statusForKind(apperr.KindOf(err))).JSON(fiber.Map{
		"errorKind": string(apperr.KindOf(err)),
		"details":   apperr.Detail(err),
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindIndexNotFound, apperr.KindColumnNotFound, apperr.KindNoData:
		return fiber.StatusNotFound
	case apperr.KindDuplicateIndex:
		return fiber.StatusConflict
	case apperr.KindExecution:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusBadRequest
	}
}
