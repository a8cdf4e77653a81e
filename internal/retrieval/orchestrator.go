// Package retrieval assembles ranked semantic context for a free-text
// query by embedding it and searching the vector index.
package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/embedding"
	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/logger"
)

// RankedUnit is one retrieved unit with its similarity to the query
// (1 - squared L2 distance on normalized vectors).
type RankedUnit struct {
	Unit       vector.IndexUnit `json:"unit"`
	Similarity float64          `json:"similarity"`
}

// Orchestrator is read-only: it never mutates the index or the stores.
type Orchestrator struct {
	embedder embedding.Embedder
	index    *vector.Manager
}

func NewOrchestrator(embedder embedding.Embedder, index *vector.Manager) *Orchestrator {
	return &Orchestrator{embedder: embedder, index: index}
}

// Answer embeds query and returns up to topK units ranked by descending
// similarity. With a sourceID the search is scoped to that source;
// otherwise all known sources are searched and merged. A missing index
// yields an empty result, not an error: no evidence found.
func (o *Orchestrator) Answer(ctx context.Context, query, sourceID string, topK int) ([]RankedUnit, error) {
	if topK <= 0 {
		return nil, nil
	}

	queryVector, err := o.embedder.Embed(ctx, query, embedding.RoleQuery)
	if err != nil {
		return nil, err
	}

	sourceIDs := []string{sourceID}
	if sourceID == "" {
		sourceIDs = o.index.List()
	}

	var ranked []RankedUnit
	for _, id := range sourceIDs {
		store, ok := o.index.Get(id)
		if !ok {
			continue
		}

		results, err := store.Search(queryVector, topK, vector.WithSourceFilter(id))
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			ranked = append(ranked, RankedUnit{
				Unit:       r.Unit,
				Similarity: 1 - float64(r.Distance),
			})
		}
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Similarity > ranked[b].Similarity
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	logger.Debug("Semantic retrieval completed",
		zap.String("source_id", sourceID),
		zap.Int("results", len(ranked)),
	)

	return ranked, nil
}
