package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/agent"
	"github.com/analytical-agent/backend/internal/storage/sqlite"
	"github.com/analytical-agent/backend/pkg/logger"
)

const defaultHistoryLimit = 50

type QueryHandler struct {
	agent   *agent.Agent
	history *sqlite.Client
}

func NewQueryHandler(a *agent.Agent, history *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		agent:   a,
		history: history,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	result, err := h.agent.ProcessQuery(c.Context(), req.Query)
	if err != nil {
		logger.Error("Failed to process query",
			zap.String("query", req.Query),
			zap.Error(err),
		)
		return writeError(c, err)
	}

	return c.JSON(result)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return c.JSON(fiber.Map{
			"history": []any{},
		})
	}

	limit := c.QueryInt("limit", defaultHistoryLimit)
	records, err := h.history.GetQueryHistory(limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load query history",
		})
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
