// Package vector implements a per-source flat similarity index over
// L2-normalized vectors with a parallel metadata sequence. Insertion
// order defines the correspondence between vector i and metadata entry i.
package vector

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/analytical-agent/backend/pkg/apperr"
)

// UnitKind identifies what a stored vector was derived from.
type UnitKind string

const (
	UnitRow           UnitKind = "row"
	UnitColumnSummary UnitKind = "column_summary"
	UnitTextChunk     UnitKind = "text_chunk"
	UnitQAPair        UnitKind = "qa_pair"
)

// IndexUnit is the atomic searchable item: metadata attached to one
// stored vector. The vector itself lives in the parallel slice inside
// the Store.
type IndexUnit struct {
	SourceID   string
	Kind       UnitKind
	RowIndex   int // row position for tabular units, -1 for column summaries
	ChunkIndex int // chunk position for document units
	ColumnName string
	Preview    string
	Question   string
	Answer     string
	Analysis   string
}

// Result is one search hit: the unit plus its squared L2 distance on
// normalized vectors (cosine-equivalent ranking).
type Result struct {
	Unit     IndexUnit
	Distance float32
}

// Store is a flat index for one source. Writes are serialized; reads
// against an unchanging store need no external coordination.
type Store struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	units     []IndexUnit
}

// NewStore allocates an empty flat index for the given dimension.
func NewStore(dimension int) (*Store, error) {
	if dimension <= 0 {
		return nil, apperr.New(apperr.KindDimensionMismatch, "dimension must be positive, got %d", dimension)
	}
	return &Store{dimension: dimension}, nil
}

// Add appends vectors and their metadata in order. Every vector is
// L2-normalized before insertion so that squared-L2 and cosine rankings
// coincide.
func (s *Store) Add(vectors [][]float32, units []IndexUnit) error {
	if len(vectors) != len(units) {
		return apperr.New(apperr.KindDimensionMismatch,
			"vector count %d does not match metadata count %d", len(vectors), len(units))
	}

	normalized := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != s.dimension {
			return apperr.New(apperr.KindDimensionMismatch,
				"vector %d has dimension %d, index expects %d", i, len(v), s.dimension)
		}
		normalized[i] = normalize(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vectors = append(s.vectors, normalized...)
	s.units = append(s.units, units...)
	s.checkConsistency()
	return nil
}

type searchOptions struct {
	sourceFilter string
}

// SearchOption configures a Search call.
type SearchOption func(*searchOptions)

// WithSourceFilter restricts results to units of one source. The flat
// index is not natively filterable, so the search over-fetches and
// filters before truncating.
func WithSourceFilter(sourceID string) SearchOption {
	return func(o *searchOptions) {
		o.sourceFilter = sourceID
	}
}

// Search returns the k nearest units to query, ordered by ascending
// distance with ties broken by insertion order.
func (s *Store) Search(query []float32, k int, opts ...SearchOption) ([]Result, error) {
	if len(query) != s.dimension {
		return nil, apperr.New(apperr.KindDimensionMismatch,
			"query has dimension %d, index expects %d", len(query), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	var options searchOptions
	for _, opt := range opts {
		opt(&options)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.checkConsistency()

	q := normalize(query)

	// Over-fetch when filtering: the nearest raw neighbors may belong
	// to other sources.
	fetchK := k
	if options.sourceFilter != "" {
		fetchK = k * 10
	}
	if fetchK > len(s.vectors) {
		fetchK = len(s.vectors)
	}

	type candidate struct {
		idx      int
		distance float32
	}
	candidates := make([]candidate, len(s.vectors))
	for i, v := range s.vectors {
		candidates[i] = candidate{idx: i, distance: squaredL2(q, v)}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].distance < candidates[b].distance
	})

	results := make([]Result, 0, k)
	for _, c := range candidates[:fetchK] {
		unit := s.units[c.idx]
		if options.sourceFilter != "" && unit.SourceID != options.sourceFilter {
			continue
		}
		results = append(results, Result{Unit: unit, Distance: c.distance})
		if len(results) >= k {
			break
		}
	}

	return results, nil
}

// Size returns the number of stored vectors.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Dimension returns the fixed vector dimension of this index.
func (s *Store) Dimension() int {
	return s.dimension
}

// checkConsistency enforces the count invariant between vectors and
// metadata. A violation means internal corruption and is never
// tolerated. Callers must hold s.mu.
func (s *Store) checkConsistency() {
	if len(s.vectors) != len(s.units) {
		panic(fmt.Sprintf("vector index corrupted: %d vectors, %d metadata entries",
			len(s.vectors), len(s.units)))
	}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
