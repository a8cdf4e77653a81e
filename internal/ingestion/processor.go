// Package ingestion runs the pipeline that turns raw tables and
// documents into indexed, searchable units: store the source, render
// its index items, embed them, and build the per-source vector index.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/document"
	"github.com/analytical-agent/backend/internal/embedding"
	"github.com/analytical-agent/backend/internal/metrics"
	"github.com/analytical-agent/backend/internal/storage/models"
	"github.com/analytical-agent/backend/internal/storage/sqlite"
	"github.com/analytical-agent/backend/internal/tabular"
	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/logger"
)

type Processor struct {
	tables    *tabular.Store
	docs      *document.Store
	index     *vector.Manager
	embedder  embedding.Embedder
	catalog   *sqlite.Client
	dimension int
}

func NewProcessor(tables *tabular.Store, docs *document.Store, index *vector.Manager,
	embedder embedding.Embedder, catalog *sqlite.Client, dimension int) *Processor {
	return &Processor{
		tables:    tables,
		docs:      docs,
		index:     index,
		embedder:  embedder,
		catalog:   catalog,
		dimension: dimension,
	}
}

// IngestTable parses records into a table, then embeds one unit per row
// and one per column summary into a fresh index for the new source.
func (p *Processor) IngestTable(ctx context.Context, name string, records [][]string) (string, *tabular.Schema, error) {
	start := time.Now()

	id, schema, err := p.tables.Ingest(name, records)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("table", "error").Inc()
		return "", nil, err
	}

	table, _ := p.tables.Get(id)
	texts, units := table.IndexItems()
	if err := p.buildIndex(ctx, id, texts, units); err != nil {
		metrics.IngestTotal.WithLabelValues("table", "error").Inc()
		return "", nil, fmt.Errorf("failed to index table %s: %w", id, err)
	}

	if p.catalog != nil {
		record := &models.Source{
			ID:         id,
			Name:       name,
			SourceType: "table",
			NumRows:    schema.NumRows,
			NumColumns: schema.NumColumns,
			IngestedAt: schema.IngestedAt,
		}
		if err := p.catalog.InsertSource(record); err != nil {
			logger.Warn("Failed to record source in catalog", zap.Error(err))
		}
	}

	metrics.IngestTotal.WithLabelValues("table", "success").Inc()
	metrics.IngestDuration.WithLabelValues("table").Observe(time.Since(start).Seconds())

	logger.Info("Table ingestion completed",
		zap.String("source_id", id),
		zap.Int("index_units", len(units)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return id, schema, nil
}

// IngestDocument ingests free text, then embeds one unit per chunk and
// one per extracted QA pair.
func (p *Processor) IngestDocument(ctx context.Context, name, text string, kind document.Kind) (string, *document.Metadata, error) {
	start := time.Now()

	id, meta, err := p.docs.Ingest(name, text, kind)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("document", "error").Inc()
		return "", nil, err
	}

	doc, _ := p.docs.Get(id)
	texts, units := doc.IndexItems()
	if err := p.buildIndex(ctx, id, texts, units); err != nil {
		metrics.IngestTotal.WithLabelValues("document", "error").Inc()
		return "", nil, fmt.Errorf("failed to index document %s: %w", id, err)
	}

	if p.catalog != nil {
		record := &models.Source{
			ID:         id,
			Name:       name,
			SourceType: "document",
			NumChunks:  meta.NumChunks,
			NumQAPairs: meta.NumQAPairs,
			IngestedAt: meta.IngestedAt,
		}
		if err := p.catalog.InsertSource(record); err != nil {
			logger.Warn("Failed to record source in catalog", zap.Error(err))
		}
	}

	metrics.IngestTotal.WithLabelValues("document", "success").Inc()
	metrics.IngestDuration.WithLabelValues("document").Observe(time.Since(start).Seconds())

	logger.Info("Document ingestion completed",
		zap.String("source_id", id),
		zap.Int("index_units", len(units)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return id, meta, nil
}

// RemoveSource forgets a source everywhere: content store, in-memory
// index, persisted index artifacts and catalog. Removing an unknown id
// is a no-op.
func (p *Processor) RemoveSource(id string) error {
	p.tables.Remove(id)
	p.docs.Remove(id)

	if err := p.index.Remove(id); err != nil {
		return err
	}
	if p.catalog != nil {
		if err := p.catalog.DeleteSource(id); err != nil {
			logger.Warn("Failed to remove source from catalog", zap.Error(err))
		}
	}

	logger.Info("Source removed", zap.String("source_id", id))
	return nil
}

// buildIndex embeds texts in order and inserts them with their units
// into a new index for sourceID, then snapshots it. Embedding results
// stay position-aligned with units; the batch call preserves order.
func (p *Processor) buildIndex(ctx context.Context, sourceID string, texts []string, units []vector.IndexUnit) error {
	if len(texts) == 0 {
		return nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts, embedding.RoleDocument)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(units) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(units))
	}

	dim := p.dimension
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	store, err := p.index.Create(sourceID, dim)
	if err != nil {
		return err
	}
	if err := store.Add(vectors, units); err != nil {
		return err
	}
	if err := p.index.Save(sourceID); err != nil {
		return err
	}

	metrics.IndexedUnits.Add(float64(len(units)))
	return nil
}
