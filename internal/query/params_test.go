package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analytical-agent/backend/pkg/apperr"
)

func TestParseFilterThresholdParams(t *testing.T) {
	p, err := ParseFilterThresholdParams(map[string]any{
		"column":   "price",
		"operator": ">",
		"value":    20.0,
	})
	require.NoError(t, err)
	assert.Equal(t, "price", p.Column)
	assert.Equal(t, ">", p.Operator)
	assert.Equal(t, 20.0, p.Value)
	assert.Empty(t, p.SourceID)
}

func TestParseFilterThresholdParamsMissing(t *testing.T) {
	for _, raw := range []map[string]any{
		{"operator": ">", "value": 1.0},
		{"column": "price", "value": 1.0},
		{"column": "price", "operator": ">"},
		{"column": "", "operator": ">", "value": 1.0},
		{"column": "price", "operator": ">", "value": "not a number"},
	} {
		_, err := ParseFilterThresholdParams(raw)
		require.Error(t, err, "raw=%v", raw)
		assert.True(t, apperr.Is(err, apperr.KindMissingParameter), "raw=%v", raw)
	}
}

func TestParseFilterThresholdValueCoercion(t *testing.T) {
	// Classifier responses sometimes carry numbers as strings or ints.
	for _, value := range []any{20, int64(20), "20", float32(20)} {
		p, err := ParseFilterThresholdParams(map[string]any{
			"column":   "price",
			"operator": ">",
			"value":    value,
		})
		require.NoError(t, err, "value=%v", value)
		assert.Equal(t, 20.0, p.Value)
	}
}

func TestParseSortParamsDefaults(t *testing.T) {
	p, err := ParseSortParams(map[string]any{"column": "price"})
	require.NoError(t, err)
	assert.True(t, p.Ascending)
	assert.Zero(t, p.Limit)

	p, err = ParseSortParams(map[string]any{
		"column":    "price",
		"ascending": false,
		"limit":     5.0,
		"source_id": "src",
	})
	require.NoError(t, err)
	assert.False(t, p.Ascending)
	assert.Equal(t, 5, p.Limit)
	assert.Equal(t, "src", p.SourceID)
}

func TestParseTopNParams(t *testing.T) {
	p, err := ParseTopNParams(map[string]any{"column": "price", "n": 3.0})
	require.NoError(t, err)
	assert.Equal(t, 3, p.N)
	assert.False(t, p.Ascending)

	for _, n := range []any{0.0, -1.0, 2.5} {
		_, err := ParseTopNParams(map[string]any{"column": "price", "n": n})
		require.Error(t, err, "n=%v", n)
		assert.True(t, apperr.Is(err, apperr.KindMissingParameter))
	}
}

func TestParseCompareAveragesParams(t *testing.T) {
	p, err := ParseCompareAveragesParams(map[string]any{"column": "price"})
	require.NoError(t, err)
	assert.Empty(t, p.SourceID1)
	assert.Empty(t, p.GroupBy)

	p, err = ParseCompareAveragesParams(map[string]any{
		"column":   "price",
		"group_by": "category",
	})
	require.NoError(t, err)
	assert.Equal(t, "category", p.GroupBy)
}

func TestParseCompareTopParamsRequiresSources(t *testing.T) {
	_, err := ParseCompareTopParams(map[string]any{
		"column":     "price",
		"n":          2.0,
		"source1_id": "one",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMissingParameter))

	p, err := ParseCompareTopParams(map[string]any{
		"column":     "price",
		"n":          2.0,
		"source1_id": "one",
		"source2_id": "two",
	})
	require.NoError(t, err)
	assert.Equal(t, "one", p.SourceID1)
	assert.Equal(t, "two", p.SourceID2)
}
