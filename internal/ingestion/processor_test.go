package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytical-agent/backend/internal/document"
	"github.com/analytical-agent/backend/internal/embedding"
	"github.com/analytical-agent/backend/internal/tabular"
	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/apperr"
)

type stubEmbedder struct {
	calls int
}

func (s *stubEmbedder) Embed(_ context.Context, _ string, _ embedding.Role) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string, _ embedding.Role) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestProcessor(t *testing.T) (*Processor, *tabular.Store, *document.Store, *vector.Manager) {
	t.Helper()
	tables := tabular.NewStore()
	docs := document.NewStore()
	index, err := vector.NewManager(t.TempDir())
	require.NoError(t, err)
	p := NewProcessor(tables, docs, index, &stubEmbedder{}, nil, 3)
	return p, tables, docs, index
}

func TestIngestTableBuildsIndex(t *testing.T) {
	p, tables, _, index := newTestProcessor(t)

	id, schema, err := p.IngestTable(context.Background(), "prices.csv", [][]string{
		{"name", "price"},
		{"alpha", "10"},
		{"beta", "20"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, schema.NumRows)

	_, ok := tables.Get(id)
	assert.True(t, ok)

	store, ok := index.Get(id)
	require.True(t, ok)
	// One unit per row plus one per column summary.
	assert.Equal(t, 4, store.Size())

	// The snapshot is persisted alongside the in-memory index.
	assert.Contains(t, index.List(), id)
}

func TestIngestTableMalformedInputLeavesNoIndex(t *testing.T) {
	p, _, _, index := newTestProcessor(t)

	_, _, err := p.IngestTable(context.Background(), "bad.csv", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMalformedInput))
	assert.Empty(t, index.List())
}

func TestIngestDocumentBuildsIndex(t *testing.T) {
	p, _, docs, index := newTestProcessor(t)

	id, meta, err := p.IngestDocument(context.Background(),
		"faq.txt", "Intro.\nQ1: A question?\nAns: An answer.", document.KindPlain)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.NumQAPairs)

	_, ok := docs.Get(id)
	assert.True(t, ok)

	store, ok := index.Get(id)
	require.True(t, ok)
	assert.Equal(t, meta.NumChunks+meta.NumQAPairs, store.Size())
}

func TestIngestEmptyDocumentHasNoIndex(t *testing.T) {
	p, _, docs, index := newTestProcessor(t)

	id, meta, err := p.IngestDocument(context.Background(), "empty.txt", "", document.KindPlain)
	require.NoError(t, err)
	assert.Equal(t, 0, meta.NumChunks)

	_, ok := docs.Get(id)
	assert.True(t, ok)
	// Zero units means no index to build or persist.
	assert.NotContains(t, index.List(), id)
}

func TestRemoveSource(t *testing.T) {
	p, tables, _, index := newTestProcessor(t)

	id, _, err := p.IngestTable(context.Background(), "prices.csv", [][]string{
		{"price"}, {"10"},
	})
	require.NoError(t, err)

	require.NoError(t, p.RemoveSource(id))

	_, ok := tables.Get(id)
	assert.False(t, ok)
	assert.NotContains(t, index.List(), id)

	// Removing again is a no-op.
	require.NoError(t, p.RemoveSource(id))
}
