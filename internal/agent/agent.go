// Package agent coordinates one query end to end: classify intent,
// dispatch to the deterministic engine or the retrieval path, narrate
// the outcome.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/cache/redis"
	"github.com/analytical-agent/backend/internal/document"
	"github.com/analytical-agent/backend/internal/llm"
	"github.com/analytical-agent/backend/internal/metrics"
	"github.com/analytical-agent/backend/internal/query"
	"github.com/analytical-agent/backend/internal/retrieval"
	"github.com/analytical-agent/backend/internal/storage/models"
	"github.com/analytical-agent/backend/internal/storage/sqlite"
	"github.com/analytical-agent/backend/internal/tabular"
	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/logger"
	"github.com/analytical-agent/backend/pkg/utils"
)

const (
	defaultExplainTopK  = 1
	defaultDocumentTopK = 3
	resultCacheTTL      = 10 * time.Minute
)

// Gateway is the language-model surface the agent consumes. It maps
// free text to a structured intent and renders results back to prose.
type Gateway interface {
	ClassifyIntent(ctx context.Context, userQuery string, sources []llm.SourceContext) (*llm.Intent, error)
	Narrate(ctx context.Context, intent string, parameters map[string]any, resultRows []map[string]any, numbers map[string]any) (string, error)
}

// AnalysisResult is the structured answer to one query.
type AnalysisResult struct {
	Intent         string           `json:"intent"`
	Parameters     map[string]any   `json:"parameters"`
	ResultRows     []map[string]any `json:"resultRows"`
	SummaryNumbers map[string]any   `json:"summaryNumbers"`
	Narrative      string           `json:"narrative"`
	LatencyMS      int64            `json:"latency_ms"`
}

type Agent struct {
	gateway      Gateway
	engine       *query.Engine
	tables       *tabular.Store
	docs         *document.Store
	orchestrator *retrieval.Orchestrator
	index        *vector.Manager
	cache        *redis.Client
	history      *sqlite.Client
}

func New(gateway Gateway, engine *query.Engine, tables *tabular.Store, docs *document.Store,
	orchestrator *retrieval.Orchestrator, index *vector.Manager,
	cache *redis.Client, history *sqlite.Client) *Agent {
	return &Agent{
		gateway:      gateway,
		engine:       engine,
		tables:       tables,
		docs:         docs,
		orchestrator: orchestrator,
		index:        index,
		cache:        cache,
		history:      history,
	}
}

// ProcessQuery answers one natural-language query. Errors always carry
// an apperr kind; anything that escapes the dispatch path unkinded is
// reported as an execution error with the message preserved.
func (a *Agent) ProcessQuery(ctx context.Context, userQuery string) (result *AnalysisResult, err error) {
	start := time.Now()
	intentName := "unknown"

	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindExecution, "query execution panicked: %v", r)
			logger.Error("Recovered from panic during query execution",
				zap.Any("panic", r),
				zap.String("query", userQuery),
			)
		}
		status := "success"
		if err != nil {
			status = "error"
			var kinded *apperr.Error
			if !errors.As(err, &kinded) {
				err = apperr.Wrap(err, apperr.KindExecution, "query execution failed: %v", err)
			}
		}
		metrics.QueryTotal.WithLabelValues(intentName, status).Inc()
		metrics.QueryDuration.WithLabelValues(intentName).Observe(time.Since(start).Seconds())
		a.recordHistory(userQuery, intentName, result, err, time.Since(start))
	}()

	if a.tables.Len() == 0 && a.docs.Len() == 0 {
		return nil, apperr.New(apperr.KindNoData, "no sources have been ingested")
	}

	cacheKey := utils.HashString(userQuery)
	if a.cache != nil {
		var cached AnalysisResult
		if ok, cerr := a.cache.GetResult(ctx, cacheKey, &cached); cerr == nil && ok {
			metrics.CacheHits.WithLabelValues("result").Inc()
			intentName = cached.Intent
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("result").Inc()
	}

	intent, err := a.gateway.ClassifyIntent(ctx, userQuery, a.sourceContexts())
	if err != nil {
		return nil, err
	}
	intentName = intent.Intent
	if !intentSupported(intent.Intent) {
		return nil, apperr.New(apperr.KindUnsupportedIntent, "intent %q is not supported", intent.Intent)
	}

	params := intent.Parameters
	if params == nil {
		params = map[string]any{}
	}

	rows, numbers, err := a.dispatch(ctx, userQuery, intent.Intent, params)
	if err != nil {
		return nil, err
	}

	narrative, err := a.gateway.Narrate(ctx, intent.Intent, params, rows, numbers)
	if err != nil {
		logger.Warn("Narrative generation failed, returning raw result", zap.Error(err))
		narrative = ""
	}

	result = &AnalysisResult{
		Intent:         intent.Intent,
		Parameters:     params,
		ResultRows:     rows,
		SummaryNumbers: numbers,
		Narrative:      narrative,
		LatencyMS:      time.Since(start).Milliseconds(),
	}

	if a.cache != nil {
		if cerr := a.cache.SetResult(ctx, cacheKey, result, resultCacheTTL); cerr != nil {
			logger.Warn("Failed to cache query result", zap.Error(cerr))
		}
	}

	return result, nil
}

func (a *Agent) dispatch(ctx context.Context, userQuery, intent string, params map[string]any) ([]map[string]any, map[string]any, error) {
	switch intent {
	case "filter_threshold":
		p, err := query.ParseFilterThresholdParams(params)
		if err != nil {
			return nil, nil, err
		}
		return a.engine.FilterThreshold(p)
	case "sort":
		p, err := query.ParseSortParams(params)
		if err != nil {
			return nil, nil, err
		}
		return a.engine.Sort(p)
	case "top_n":
		p, err := query.ParseTopNParams(params)
		if err != nil {
			return nil, nil, err
		}
		return a.engine.TopN(p)
	case "compare_averages":
		p, err := query.ParseCompareAveragesParams(params)
		if err != nil {
			return nil, nil, err
		}
		return a.engine.CompareAverages(p)
	case "compare_top":
		p, err := query.ParseCompareTopParams(params)
		if err != nil {
			return nil, nil, err
		}
		return a.engine.CompareTop(p)
	case "explain_row":
		return a.explainRow(ctx, userQuery, params)
	case "document_query":
		return a.documentQuery(ctx, userQuery, params)
	default:
		return nil, nil, apperr.New(apperr.KindUnsupportedIntent, "intent %q is not supported", intent)
	}
}

// explainRow retrieves the rows semantically closest to the query and
// returns their full cell contents.
func (a *Agent) explainRow(ctx context.Context, userQuery string, params map[string]any) ([]map[string]any, map[string]any, error) {
	sourceID := stringParam(params, "source_id")
	topK := intParam(params, "top_k", defaultExplainTopK)

	ranked, err := a.orchestrator.Answer(ctx, userQuery, sourceID, topK*3)
	if err != nil {
		return nil, nil, err
	}

	rows := []map[string]any{}
	rowIndices := []int{}
	similarities := []float64{}
	for _, r := range ranked {
		if r.Unit.Kind != vector.UnitRow {
			continue
		}
		table, ok := a.tables.Get(r.Unit.SourceID)
		if !ok {
			continue
		}
		row := table.RowMap(r.Unit.RowIndex)
		row["_row_index"] = r.Unit.RowIndex
		row["_similarity_score"] = r.Similarity
		rows = append(rows, row)
		rowIndices = append(rowIndices, r.Unit.RowIndex)
		similarities = append(similarities, r.Similarity)
		if len(rows) >= topK {
			break
		}
	}

	metrics.RetrievalResultsCount.Observe(float64(len(rows)))

	numbers := map[string]any{
		"query":             userQuery,
		"top_k":             topK,
		"source_id":         sourceID,
		"row_indices":       rowIndices,
		"similarity_scores": similarities,
	}
	return rows, numbers, nil
}

// documentQuery retrieves the most relevant document chunks and QA
// pairs for the query.
func (a *Agent) documentQuery(ctx context.Context, userQuery string, params map[string]any) ([]map[string]any, map[string]any, error) {
	sourceID := stringParam(params, "source_id")
	topK := intParam(params, "top_k", defaultDocumentTopK)

	ranked, err := a.orchestrator.Answer(ctx, userQuery, sourceID, topK)
	if err != nil {
		return nil, nil, err
	}

	rows := []map[string]any{}
	similarities := []float64{}
	for _, r := range ranked {
		row := map[string]any{
			"source_id":         r.Unit.SourceID,
			"kind":              string(r.Unit.Kind),
			"content":           r.Unit.Preview,
			"_similarity_score": r.Similarity,
		}
		if r.Unit.Kind == vector.UnitQAPair {
			row["question"] = r.Unit.Question
			row["answer"] = r.Unit.Answer
			if r.Unit.Analysis != "" {
				row["analysis"] = r.Unit.Analysis
			}
		}
		rows = append(rows, row)
		similarities = append(similarities, r.Similarity)
	}

	metrics.RetrievalResultsCount.Observe(float64(len(rows)))

	numbers := map[string]any{
		"query":             userQuery,
		"top_k":             topK,
		"source_id":         sourceID,
		"num_results":       len(rows),
		"similarity_scores": similarities,
	}
	return rows, numbers, nil
}

// Status reports the loaded sources, the known indexes and the intents
// the classifier may use.
func (a *Agent) Status() map[string]any {
	tables := a.tables.List()
	docs := a.docs.List()

	sources := make([]map[string]any, 0, len(tables)+len(docs))
	for _, s := range tables {
		sources = append(sources, map[string]any{
			"source_id":   s.SourceID,
			"name":        s.Name,
			"source_type": "table",
			"num_rows":    s.NumRows,
			"num_columns": s.NumColumns,
			"ingested_at": s.IngestedAt,
		})
	}
	for _, m := range docs {
		sources = append(sources, map[string]any{
			"source_id":    m.SourceID,
			"name":         m.Name,
			"source_type":  "document",
			"num_chunks":   m.NumChunks,
			"num_qa_pairs": m.NumQAPairs,
			"ingested_at":  m.IngestedAt,
		})
	}

	return map[string]any{
		"sources":           sources,
		"indexes":           a.index.List(),
		"supported_intents": llm.SupportedIntents,
	}
}

// sourceContexts summarizes every loaded source for the classifier
// prompt, tables before documents, each group in ingestion order.
func (a *Agent) sourceContexts() []llm.SourceContext {
	var out []llm.SourceContext
	for _, s := range a.tables.List() {
		out = append(out, llm.SourceContext{
			ID:             s.SourceID,
			Kind:           "table",
			Columns:        s.Columns,
			NumericColumns: s.NumericColumns,
		})
	}
	for _, m := range a.docs.List() {
		out = append(out, llm.SourceContext{
			ID:   m.SourceID,
			Kind: "document",
		})
	}
	return out
}

func (a *Agent) recordHistory(userQuery, intent string, result *AnalysisResult, err error, elapsed time.Duration) {
	if a.history == nil {
		return
	}

	record := &models.QueryRecord{
		ID:        uuid.New().String(),
		QueryText: userQuery,
		Intent:    intent,
		Status:    "success",
		LatencyMS: int(elapsed.Milliseconds()),
		CreatedAt: time.Now(),
	}
	if err != nil {
		record.Status = "error"
		record.ErrorKind = string(apperr.KindOf(err))
	} else if result != nil {
		record.Narrative = result.Narrative
	}

	if herr := a.history.InsertQueryRecord(record); herr != nil {
		logger.Warn("Failed to record query history", zap.Error(herr))
	}
}

func intentSupported(intent string) bool {
	for _, s := range llm.SupportedIntents {
		if s == intent {
			return true
		}
	}
	return false
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}
