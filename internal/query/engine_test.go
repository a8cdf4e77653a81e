package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytical-agent/backend/internal/tabular"
	"github.com/analytical-agent/backend/pkg/apperr"
)

func newEngineWithPrices(t *testing.T) (*Engine, string) {
	t.Helper()
	store := tabular.NewStore()
	id, _, err := store.Ingest("prices.csv", [][]string{
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
	})
	require.NoError(t, err)
	return NewEngine(store), id
}

func TestFilterThreshold(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.FilterThreshold(FilterThresholdParams{
		Column:   "price",
		Operator: ">",
		Value:    20.0,
	})
	require.NoError(t, err)

	assert.Len(t, rows, 4)
	assert.Equal(t, 10, numbers["total_rows"])
	assert.Equal(t, 4, numbers["filtered_rows"])
	assert.Equal(t, "price", numbers["filter_column"])
	assert.Equal(t, ">", numbers["filter_operator"])
	assert.Equal(t, 20.0, numbers["filter_value"])
	assert.InDelta(t, 40.0, numbers["percentage_matched"].(float64), 1e-9)
	assert.Equal(t, []int{3, 4, 7, 9}, numbers["row_indices"])
}

func TestFilterThresholdNoMatches(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.FilterThreshold(FilterThresholdParams{
		Column:   "price",
		Operator: ">",
		Value:    1000,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, numbers["filtered_rows"])
	assert.Equal(t, []int{}, numbers["row_indices"])
}

func TestFilterThresholdInvalidOperator(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	_, _, err := engine.FilterThreshold(FilterThresholdParams{
		Column:   "price",
		Operator: "=>",
		Value:    1,
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidOperator))
}

func TestFilterThresholdUnknownColumn(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	_, _, err := engine.FilterThreshold(FilterThresholdParams{
		Column:   "weight",
		Operator: ">",
		Value:    1,
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindColumnNotFound))
}

func TestFilterThresholdMissingCellsNeverMatch(t *testing.T) {
	store := tabular.NewStore()
	_, _, err := store.Ingest("gaps.csv", [][]string{
		{"v"},
		{"5"},
		{""},
		{"1"},
	})
	require.NoError(t, err)
	engine := NewEngine(store)

	// != would match everything that has a value; the missing cell
	// still stays out.
	_, numbers, err := engine.FilterThreshold(FilterThresholdParams{
		Column:   "v",
		Operator: "!=",
		Value:    -1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, numbers["filtered_rows"])
	assert.Equal(t, []int{0, 2}, numbers["row_indices"])
}

func TestAllOperators(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	cases := map[string]int{
		">":  4, // 25.5, 30, 22, 28
		"<":  5,
		">=": 5, // adds 20.0
		"<=": 6,
		"==": 1,
		"!=": 9,
	}
	for op, want := range cases {
		_, numbers, err := engine.FilterThreshold(FilterThresholdParams{
			Column:   "price",
			Operator: op,
			Value:    20.0,
		})
		require.NoError(t, err, "operator %s", op)
		assert.Equal(t, want, numbers["filtered_rows"], "operator %s", op)
	}
}

func TestSortDescending(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.Sort(SortParams{
		Column:    "price",
		Ascending: false,
	})
	require.NoError(t, err)
	require.Len(t, rows, 10)

	assert.Equal(t, 30.0, rows[0]["price"])
	assert.Equal(t, 10.5, rows[9]["price"])
	assert.Equal(t, 30.0, numbers["first_value"])
	assert.Equal(t, 10.5, numbers["last_value"])
	assert.Equal(t, 10, numbers["returned_rows"])
}

func TestSortWithLimit(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.Sort(SortParams{
		Column:    "price",
		Ascending: true,
		Limit:     3,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 10.5, rows[0]["price"])
	assert.Equal(t, 15.5, rows[2]["price"])
	assert.Equal(t, 3, numbers["returned_rows"])
	assert.Equal(t, 10, numbers["total_rows"])
	// Indices reflect the returned slice, not the whole ordering.
	assert.Equal(t, []int{0, 5, 2}, numbers["row_indices"])
}

func TestSortMissingCellsLast(t *testing.T) {
	store := tabular.NewStore()
	_, _, err := store.Ingest("gaps.csv", [][]string{
		{"v"},
		{"2"},
		{""},
		{"1"},
	})
	require.NoError(t, err)
	engine := NewEngine(store)

	for _, ascending := range []bool{true, false} {
		rows, _, err := engine.Sort(SortParams{Column: "v", Ascending: ascending})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Nil(t, rows[2]["v"], "ascending=%v", ascending)
	}
}

func TestTopN(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.TopN(TopNParams{
		Column: "price",
		N:      3,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "delta", rows[0]["name"])
	assert.Equal(t, 3, numbers["n"])
	assert.Equal(t, []float64{30.0, 28.0, 25.5}, numbers["top_values"])
	assert.Equal(t, []int{3, 9, 4}, numbers["top_indices"])
	assert.Equal(t, 30.0, numbers["highest_value"])
	assert.Equal(t, 25.5, numbers["lowest_in_top"])
	assert.InDelta(t, (30.0+28.0+25.5)/3, numbers["average_of_top"].(float64), 1e-9)
}

func TestTopNLargerThanTable(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.TopN(TopNParams{Column: "price", N: 50})
	require.NoError(t, err)
	assert.Len(t, rows, 10)
	assert.Equal(t, 50, numbers["n"])
	assert.Len(t, numbers["top_values"].([]float64), 10)
}

func TestTopNAgreesWithSort(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	topRows, _, err := engine.TopN(TopNParams{Column: "price", N: 5})
	require.NoError(t, err)
	sortRows, _, err := engine.Sort(SortParams{Column: "price", Ascending: false, Limit: 5})
	require.NoError(t, err)

	require.Len(t, topRows, len(sortRows))
	for i := range topRows {
		assert.Equal(t, sortRows[i]["price"], topRows[i]["price"], "rank %d", i)
	}
}

func TestCompareAveragesSingleSource(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.CompareAverages(CompareAveragesParams{Column: "price"})
	require.NoError(t, err)

	assert.InDelta(t, 19.85, numbers["average"].(float64), 1e-9)
	assert.Equal(t, 10.5, numbers["min"])
	assert.Equal(t, 30.0, numbers["max"])
	assert.Equal(t, 10, numbers["count"])
	assert.Greater(t, numbers["std_dev"].(float64), 0.0)

	require.Len(t, rows, 5)
	assert.Equal(t, "average", rows[0]["metric"])
	assert.Equal(t, "count", rows[4]["metric"])
}

func TestCompareAveragesByGroup(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	rows, numbers, err := engine.CompareAverages(CompareAveragesParams{
		Column:  "price",
		GroupBy: "category",
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Groups come back in sorted order.
	assert.Equal(t, "a", rows[0]["category"])
	assert.Equal(t, "b", rows[1]["category"])
	assert.InDelta(t, (10.5+15.5+25.5+18.5+16.5)/5, rows[0]["average"].(float64), 1e-9)
	assert.InDelta(t, (20.0+30.0+12.0+22.0+28.0)/5, rows[1]["average"].(float64), 1e-9)

	byGroup := numbers["average_by_category"].(map[string]float64)
	assert.Len(t, byGroup, 2)
	assert.InDelta(t, 19.85, numbers["overall_average"].(float64), 1e-9)
	assert.Equal(t, byGroup["b"], numbers["max_average"])
	assert.Equal(t, byGroup["a"], numbers["min_average"])
}

func TestCompareAveragesAcrossSources(t *testing.T) {
	store := tabular.NewStore()
	id1, _, err := store.Ingest("one.csv", [][]string{
		{"price"}, {"10"}, {"20"},
	})
	require.NoError(t, err)
	id2, _, err := store.Ingest("two.csv", [][]string{
		{"price"}, {"5"}, {"15"},
	})
	require.NoError(t, err)
	engine := NewEngine(store)

	rows, numbers, err := engine.CompareAverages(CompareAveragesParams{
		Column:    "price",
		SourceID1: id1,
		SourceID2: id2,
	})
	require.NoError(t, err)

	assert.Equal(t, 15.0, numbers[id1+"_average"])
	assert.Equal(t, 10.0, numbers[id2+"_average"])
	assert.Equal(t, 5.0, numbers["difference"])
	assert.InDelta(t, 50.0, numbers["percent_difference"].(float64), 1e-9)

	require.Len(t, rows, 2)
	assert.Equal(t, id1, rows[0]["source_id"])
}

func TestCompareAveragesZeroDenominator(t *testing.T) {
	store := tabular.NewStore()
	id1, _, err := store.Ingest("one.csv", [][]string{{"v"}, {"5"}})
	require.NoError(t, err)
	id2, _, err := store.Ingest("two.csv", [][]string{{"v"}, {"0"}})
	require.NoError(t, err)
	engine := NewEngine(store)

	_, numbers, err := engine.CompareAverages(CompareAveragesParams{
		Column:    "v",
		SourceID1: id1,
		SourceID2: id2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, numbers["percent_difference"])
}

func TestCompareTop(t *testing.T) {
	store := tabular.NewStore()
	id1, _, err := store.Ingest("one.csv", [][]string{
		{"price"}, {"10"}, {"30"}, {"20"},
	})
	require.NoError(t, err)
	id2, _, err := store.Ingest("two.csv", [][]string{
		{"price"}, {"50"}, {"40"},
	})
	require.NoError(t, err)
	engine := NewEngine(store)

	rows, numbers, err := engine.CompareTop(CompareTopParams{
		Column:    "price",
		N:         3,
		SourceID1: id1,
		SourceID2: id2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, 1, rows[0]["rank"])
	assert.Equal(t, 30.0, rows[0][id1+"_price"])
	assert.Equal(t, 1, rows[0][id1+"_index"])
	assert.Equal(t, 50.0, rows[0][id2+"_price"])

	// Source two has only two rows; rank 3 carries only source one.
	assert.Contains(t, rows[2], id1+"_price")
	assert.NotContains(t, rows[2], id2+"_price")

	assert.Equal(t, []float64{30, 20, 10}, numbers[id1+"_top_values"])
	assert.Equal(t, []float64{50, 40}, numbers[id2+"_top_values"])
	assert.Equal(t, 45.0, numbers[id2+"_average"])
	assert.Equal(t, 50.0, numbers[id2+"_max"])
}

func TestCompareTopRequiresBothSources(t *testing.T) {
	engine, id := newEngineWithPrices(t)

	_, _, err := engine.CompareTop(CompareTopParams{
		Column:    "price",
		N:         2,
		SourceID1: id,
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMissingParameter))
}

func TestResolveSourceNoData(t *testing.T) {
	engine := NewEngine(tabular.NewStore())

	_, _, err := engine.Sort(SortParams{Column: "price"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNoData))
}

func TestResolveSourceUnknownID(t *testing.T) {
	engine, _ := newEngineWithPrices(t)

	_, _, err := engine.Sort(SortParams{Column: "price", SourceID: "nope"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExecution))
}
