package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/agent"
	"github.com/analytical-agent/backend/internal/ingestion"
	"github.com/analytical-agent/backend/pkg/logger"
)

type SourceHandler struct {
	agent     *agent.Agent
	processor *ingestion.Processor
}

func NewSourceHandler(a *agent.Agent, processor *ingestion.Processor) *SourceHandler {
	return &SourceHandler{
		agent:     a,
		processor: processor,
	}
}

func (h *SourceHandler) GetStatus(c *fiber.Ctx) error {
	return c.JSON(h.agent.Status())
}

func (h *SourceHandler) DeleteSource(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Source id is required",
		})
	}

	if err := h.processor.RemoveSource(id); err != nil {
		logger.Error("Failed to remove source",
			zap.String("source_id", id),
			zap.Error(err),
		)
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":   "Source removed",
		"source_id": id,
	})
}
