package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/retrieval"
	"github.com/analytical-agent/backend/pkg/logger"
)

const defaultSearchTopK = 5

type SearchHandler struct {
	orchestrator *retrieval.Orchestrator
}

func NewSearchHandler(orchestrator *retrieval.Orchestrator) *SearchHandler {
	return &SearchHandler{
		orchestrator: orchestrator,
	}
}

// HandleSearch runs a raw semantic search, bypassing intent
// classification. Useful for inspecting what the retriever sees.
func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	var req struct {
		Query    string `json:"query"`
		SourceID string `json:"source_id"`
		TopK     int    `json:"top_k"`
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
	if req.TopK <= 0 {
		req.TopK = defaultSearchTopK
	}

	ranked, err := h.orchestrator.Answer(c.Context(), req.Query, req.SourceID, req.TopK)
	if err != nil {
		logger.Error("Semantic search failed",
			zap.String("query", req.Query),
			zap.Error(err),
		)
		return writeError(c, err)
	}

	if ranked == nil {
		ranked = []retrieval.RankedUnit{}
	}
	return c.JSON(fiber.Map{
		"query":   req.Query,
		"results": ranked,
	})
}
