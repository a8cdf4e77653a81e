package tabular

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytical-agent/backend/internal/vector"
	"github.com/analytical-agent/backend/pkg/apperr"
)

func priceRecords() [][]string {
	return [][]string{
		{"name", "price", "category"},
		{"alpha", "10.5", "a"},
		{"beta", "20.0", "b"},
		{"gamma", "15.5", "a"},
		{"delta", "30.0", "b"},
		{"epsilon", "25.5", "a"},
		{"zeta", "12.0", "b"},
		{"eta", "18.5", "a"},
		{"theta", "22.0", "b"},
		{"iota", "16.5", "a"},
		{"kappa", "28.0", "b"},
	}
}

func TestIngestInfersSchema(t *testing.T) {
	store := NewStore()

	id, schema, err := store.Ingest("prices.csv", priceRecords())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Equal(t, 10, schema.NumRows)
	assert.Equal(t, 3, schema.NumColumns)
	assert.Equal(t, []string{"name", "price", "category"}, schema.Columns)
	assert.Equal(t, []string{"price"}, schema.NumericColumns)
	assert.ElementsMatch(t, []string{"name", "category"}, schema.TextColumns)
	assert.Equal(t, KindNumeric, schema.ColumnKinds["price"])
	assert.Equal(t, KindText, schema.ColumnKinds["name"])

	// Every column lands in exactly one partition.
	assert.Len(t, schema.NumericColumns, schema.NumColumns-len(schema.TextColumns))
}

func TestIngestSourceIDKeepsStem(t *testing.T) {
	store := NewStore()

	id, _, err := store.Ingest("Q3 sales report.csv", priceRecords())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "Q3_sales_report_"), "got %q", id)
}

func TestIngestEmptyTable(t *testing.T) {
	store := NewStore()

	_, _, err := store.Ingest("empty.csv", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMalformedInput))
}

func TestIngestBlankHeader(t *testing.T) {
	store := NewStore()

	_, _, err := store.Ingest("blank.csv", [][]string{
		{"", "  ", ""},
		{"1", "2", "3"},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMalformedInput))
}

func TestIngestRaggedRows(t *testing.T) {
	store := NewStore()

	_, _, err := store.Ingest("ragged.csv", [][]string{
		{"a", "b"},
		{"1", "2"},
		{"3"},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMalformedInput))
}

func TestColumnWithMissingCellsStaysNumeric(t *testing.T) {
	store := NewStore()

	_, schema, err := store.Ingest("gaps.csv", [][]string{
		{"v"},
		{"1.5"},
		{""},
		{"2.5"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindNumeric, schema.ColumnKinds["v"])
}

func TestMixedColumnIsText(t *testing.T) {
	store := NewStore()

	_, schema, err := store.Ingest("mixed.csv", [][]string{
		{"v"},
		{"1.5"},
		{"n/a"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindText, schema.ColumnKinds["v"])
}

func TestFirstReturnsEarliestIngested(t *testing.T) {
	store := NewStore()

	id1, _, err := store.Ingest("one.csv", priceRecords())
	require.NoError(t, err)
	_, _, err = store.Ingest("two.csv", priceRecords())
	require.NoError(t, err)

	first, ok := store.First()
	require.True(t, ok)
	assert.Equal(t, id1, first)

	store.Remove(id1)
	first, ok = store.First()
	require.True(t, ok)
	assert.NotEqual(t, id1, first)
}

func TestRowMapAndText(t *testing.T) {
	store := NewStore()

	id, _, err := store.Ingest("rows.csv", [][]string{
		{"name", "price"},
		{"alpha", "10.5"},
		{"beta", ""},
	})
	require.NoError(t, err)

	table, ok := store.Get(id)
	require.True(t, ok)

	row := table.RowMap(0)
	assert.Equal(t, "alpha", row["name"])
	assert.Equal(t, 10.5, row["price"])

	row = table.RowMap(1)
	assert.Nil(t, row["price"])

	assert.Equal(t, "name: alpha | price: 10.5", table.RowText(0))
	assert.Equal(t, "name: beta", table.RowText(1))
}

func TestColumnSummaryText(t *testing.T) {
	store := NewStore()

	id, _, err := store.Ingest("prices.csv", priceRecords())
	require.NoError(t, err)
	table, _ := store.Get(id)

	numeric := table.ColumnSummaryText("price")
	assert.Contains(t, numeric, "Column price: numeric")
	assert.Contains(t, numeric, "Min: 10.5")
	assert.Contains(t, numeric, "Max: 30")
	assert.Contains(t, numeric, "Mean: 19.85")

	text := table.ColumnSummaryText("category")
	assert.Contains(t, text, "Unique values: 2")
}

func TestIndexItemsRowsThenColumns(t *testing.T) {
	store := NewStore()

	id, schema, err := store.Ingest("prices.csv", priceRecords())
	require.NoError(t, err)
	table, _ := store.Get(id)

	texts, units := table.IndexItems()
	require.Len(t, texts, schema.NumRows+schema.NumColumns)
	require.Len(t, units, len(texts))

	for i := 0; i < schema.NumRows; i++ {
		assert.Equal(t, vector.UnitRow, units[i].Kind)
		assert.Equal(t, i, units[i].RowIndex)
		assert.Equal(t, id, units[i].SourceID)
	}
	for i := schema.NumRows; i < len(units); i++ {
		assert.Equal(t, vector.UnitColumnSummary, units[i].Kind)
		assert.Equal(t, -1, units[i].RowIndex)
		assert.NotEmpty(t, units[i].ColumnName)
	}
}

func TestColumnFloatsSkipsMissing(t *testing.T) {
	store := NewStore()

	id, _, err := store.Ingest("gaps.csv", [][]string{
		{"v"},
		{"1"},
		{""},
		{"3"},
	})
	require.NoError(t, err)
	table, _ := store.Get(id)

	values, positions := table.ColumnFloats("v")
	assert.Equal(t, []float64{1, 3}, values)
	assert.Equal(t, []int{0, 2}, positions)
}
