// Package tabular owns ingested tables and their inferred schemas. A
// table is immutable after ingestion; the query engine only reads it.
package tabular

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/logger"
	"github.com/analytical-agent/backend/pkg/utils"
)

// ColumnKind is the inferred kind of a column, fixed at ingestion time.
type ColumnKind string

const (
	KindNumeric ColumnKind = "numeric"
	KindText    ColumnKind = "text"
)

const previewLimit = 500

// Schema describes an ingested table. Every column appears in exactly
// one of NumericColumns or TextColumns.
type Schema struct {
	SourceID       string                `json:"source_id"`
	Name           string                `json:"name"`
	NumRows        int                   `json:"num_rows"`
	NumColumns     int                   `json:"num_columns"`
	Columns        []string              `json:"columns"`
	ColumnKinds    map[string]ColumnKind `json:"column_kinds"`
	NumericColumns []string              `json:"numeric_columns"`
	TextColumns    []string              `json:"text_columns"`
	IngestedAt     time.Time             `json:"ingested_at"`
}

// Table holds the raw cells of one ingested table. Empty cells are
// missing values; they are excluded from numeric computations and from
// row renderings.
type Table struct {
	ID      string
	Schema  *Schema
	columns []string
	colIdx  map[string]int
	rows    [][]string
}

// Store keeps tables in memory keyed by id, preserving ingestion order
// for the default-source fallback.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*Table
	order  []string
}

func NewStore() *Store {
	return &Store{tables: make(map[string]*Table)}
}

// Ingest parses records (header row plus data rows) into a table,
// infers the schema and retains both.
func (s *Store) Ingest(name string, records [][]string) (string, *Schema, error) {
	if len(records) == 0 {
		return "", nil, apperr.New(apperr.KindMalformedInput, "table %q is empty", name)
	}

	header := records[0]
	hasName := false
	for _, col := range header {
		if strings.TrimSpace(col) != "" {
			hasName = true
			break
		}
	}
	if !hasName {
		return "", nil, apperr.New(apperr.KindMalformedInput, "table %q has no column names", name)
	}

	rows := records[1:]
	for i, row := range rows {
		if len(row) != len(header) {
			return "", nil, apperr.New(apperr.KindMalformedInput,
				"table %q is not rectangular: row %d has %d cells, header has %d",
				name, i, len(row), len(header))
		}
	}

	id := GenerateSourceID(name)

	columns := make([]string, len(header))
	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		columns[i] = strings.TrimSpace(col)
		colIdx[columns[i]] = i
	}

	table := &Table{
		ID:      id,
		columns: columns,
		colIdx:  colIdx,
		rows:    rows,
	}
	table.Schema = inferSchema(table, id, name)

	s.mu.Lock()
	s.tables[id] = table
	s.order = append(s.order, id)
	s.mu.Unlock()

	logger.Info("Table ingested",
		zap.String("source_id", id),
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(columns)),
	)

	return id, table.Schema, nil
}

// Get returns the table for id.
func (s *Store) Get(id string) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	return t, ok
}

// First returns the earliest-ingested source id, used when a query
// omits the source and several are loaded.
func (s *Store) First() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", false
	}
	return s.order[0], true
}

// List returns schemas in ingestion order.
func (s *Store) List() []*Schema {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schemas := make([]*Schema, 0, len(s.order))
	for _, id := range s.order {
		schemas = append(schemas, s.tables[id].Schema)
	}
	return schemas
}

// Len returns the number of loaded tables.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}

// Remove forgets the table for id. The vector index for id is cleaned
// up separately; neither depends on the other being present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[id]; !ok {
		return
	}
	delete(s.tables, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// GenerateSourceID derives a stable, human-traceable identifier from a
// source name: the sanitized stem plus a short hash of name and time.
func GenerateSourceID(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	stem = strings.ReplaceAll(stem, " ", "_")
	if stem == "" {
		stem = "table"
	}
	suffix := utils.ShortHash(fmt.Sprintf("%s_%s", name, time.Now().Format(time.RFC3339Nano)))
	return fmt.Sprintf("%s_%s", stem, suffix)
}

func inferSchema(t *Table, id, name string) *Schema {
	kinds := make(map[string]ColumnKind, len(t.columns))
	var numericCols, textCols []string

	for _, col := range t.columns {
		if t.columnIsNumeric(col) {
			kinds[col] = KindNumeric
			numericCols = append(numericCols, col)
		} else {
			kinds[col] = KindText
			textCols = append(textCols, col)
		}
	}

	return &Schema{
		SourceID:       id,
		Name:           name,
		NumRows:        len(t.rows),
		NumColumns:     len(t.columns),
		Columns:        append([]string(nil), t.columns...),
		ColumnKinds:    kinds,
		NumericColumns: numericCols,
		TextColumns:    textCols,
		IngestedAt:     time.Now(),
	}
}

// columnIsNumeric reports whether every non-missing cell of col parses
// as a float. The decision is binary; cleanup of malformed numerics is
// a caller-owned pre-pass.
func (t *Table) columnIsNumeric(col string) bool {
	idx, ok := t.colIdx[col]
	if !ok {
		return false
	}
	for _, row := range t.rows {
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false
		}
	}
	return true
}

// Columns returns the ordered column names.
func (t *Table) Columns() []string {
	return t.columns
}

// NumRows returns the number of data rows.
func (t *Table) NumRows() int {
	return len(t.rows)
}

// HasColumn reports whether the table has a column named col.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.colIdx[col]
	return ok
}

// Cell returns the raw cell value and whether it is present
// (non-missing).
func (t *Table) Cell(row int, col string) (string, bool) {
	idx, ok := t.colIdx[col]
	if !ok || row < 0 || row >= len(t.rows) {
		return "", false
	}
	cell := strings.TrimSpace(t.rows[row][idx])
	return cell, cell != ""
}

// Float returns the cell parsed as float64. The second return is false
// for missing cells and for cells that do not parse.
func (t *Table) Float(row int, col string) (float64, bool) {
	cell, ok := t.Cell(row, col)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ColumnFloats returns the non-missing numeric values of col together
// with their row positions.
func (t *Table) ColumnFloats(col string) ([]float64, []int) {
	var values []float64
	var positions []int
	for i := range t.rows {
		if v, ok := t.Float(i, col); ok {
			values = append(values, v)
			positions = append(positions, i)
		}
	}
	return values, positions
}

// RowMap renders row i as a column-keyed map, numeric cells as float64.
// Missing cells map to nil.
func (t *Table) RowMap(row int) map[string]any {
	out := make(map[string]any, len(t.columns))
	for _, col := range t.columns {
		cell, ok := t.Cell(row, col)
		if !ok {
			out[col] = nil
			continue
		}
		if t.Schema.ColumnKinds[col] == KindNumeric {
			if v, err := strconv.ParseFloat(cell, 64); err == nil {
				out[col] = v
				continue
			}
		}
		out[col] = cell
	}
	return out
}

// RowText renders row i as a pipe-joined "column: value" string of its
// non-missing cells, the embedding text of a row unit.
func (t *Table) RowText(row int) string {
	parts := make([]string, 0, len(t.columns))
	for _, col := range t.columns {
		if cell, ok := t.Cell(row, col); ok {
			parts = append(parts, fmt.Sprintf("%s: %s", col, cell))
		}
	}
	return strings.Join(parts, " | ")
}

// ColumnSummaryText renders a generated summary of col: distribution
// stats for numeric columns, cardinality and frequent values otherwise.
func (t *Table) ColumnSummaryText(col string) string {
	if t.Schema.ColumnKinds[col] == KindNumeric {
		values, _ := t.ColumnFloats(col)
		if len(values) == 0 {
			return fmt.Sprintf("Column %s: numeric. No values.", col)
		}
		return fmt.Sprintf("Column %s: numeric. Min: %g, Max: %g, Mean: %.2f, Median: %g",
			col, minOf(values), maxOf(values), meanOf(values), medianOf(values))
	}

	counts := make(map[string]int)
	var order []string
	for i := range t.rows {
		if cell, ok := t.Cell(i, col); ok {
			if _, seen := counts[cell]; !seen {
				order = append(order, cell)
			}
			counts[cell]++
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] > counts[order[b]]
	})
	top := order
	if len(top) > 3 {
		top = top[:3]
	}
	return fmt.Sprintf("Column %s: text/categorical. Unique values: %d. Top values: %s",
		col, len(counts), strings.Join(top, ", "))
}

// IndexItems returns the embedding texts and index metadata for the
// whole table: one item per row followed by one per column summary.
func (t *Table) IndexItems() ([]string, []vector.IndexUnit) {
	texts := make([]string, 0, len(t.rows)+len(t.columns))
	units := make([]vector.IndexUnit, 0, len(t.rows)+len(t.columns))

	for i := range t.rows {
		text := t.RowText(i)
		texts = append(texts, text)
		units = append(units, vector.IndexUnit{
			SourceID: t.ID,
			Kind:     vector.UnitRow,
			RowIndex: i,
			Preview:  truncate(text, previewLimit),
		})
	}

	for _, col := range t.columns {
		summary := t.ColumnSummaryText(col)
		texts = append(texts, summary)
		units = append(units, vector.IndexUnit{
			SourceID:   t.ID,
			Kind:       vector.UnitColumnSummary,
			RowIndex:   -1,
			ColumnName: col,
			Preview:    truncate(summary, previewLimit),
		})
	}

	return texts, units
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
