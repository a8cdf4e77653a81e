package query

import (
	"strconv"

	"github.com/analytical-agent/backend/pkg/apperr"
)

// Parameter records for the five deterministic operations. The intent
// classifier returns untyped JSON; these records are validated from it
// at the boundary so unknown or missing fields are rejected before
// execution.

type FilterThresholdParams struct {
	Column   string
	Operator string
	Value    float64
	SourceID string
}

type SortParams struct {
	Column    string
	Ascending bool
	SourceID  string
	Limit     int
}

type TopNParams struct {
	Column    string
	N         int
	Ascending bool
	SourceID  string
}

type CompareAveragesParams struct {
	Column    string
	SourceID1 string
	SourceID2 string
	GroupBy   string
}

type CompareTopParams struct {
	Column    string
	N         int
	SourceID1 string
	SourceID2 string
}

func ParseFilterThresholdParams(raw map[string]any) (FilterThresholdParams, error) {
	var p FilterThresholdParams
	var err error
	if p.Column, err = requireString(raw, "column"); err != nil {
		return p, err
	}
	if p.Operator, err = requireString(raw, "operator"); err != nil {
		return p, err
	}
	if p.Value, err = requireNumber(raw, "value"); err != nil {
		return p, err
	}
	p.SourceID = optionalString(raw, "source_id")
	return p, nil
}

func ParseSortParams(raw map[string]any) (SortParams, error) {
	var p SortParams
	var err error
	if p.Column, err = requireString(raw, "column"); err != nil {
		return p, err
	}
	p.Ascending = optionalBool(raw, "ascending", true)
	p.SourceID = optionalString(raw, "source_id")
	p.Limit = optionalInt(raw, "limit", 0)
	return p, nil
}

func ParseTopNParams(raw map[string]any) (TopNParams, error) {
	var p TopNParams
	var err error
	if p.Column, err = requireString(raw, "column"); err != nil {
		return p, err
	}
	if p.N, err = requirePositiveInt(raw, "n"); err != nil {
		return p, err
	}
	p.Ascending = optionalBool(raw, "ascending", false)
	p.SourceID = optionalString(raw, "source_id")
	return p, nil
}

func ParseCompareAveragesParams(raw map[string]any) (CompareAveragesParams, error) {
	var p CompareAveragesParams
	var err error
	if p.Column, err = requireString(raw, "column"); err != nil {
		return p, err
	}
	p.SourceID1 = optionalString(raw, "source1_id")
	p.SourceID2 = optionalString(raw, "source2_id")
	p.GroupBy = optionalString(raw, "group_by")
	return p, nil
}

func ParseCompareTopParams(raw map[string]any) (CompareTopParams, error) {
	var p CompareTopParams
	var err error
	if p.Column, err = requireString(raw, "column"); err != nil {
		return p, err
	}
	if p.N, err = requirePositiveInt(raw, "n"); err != nil {
		return p, err
	}
	p.SourceID1 = optionalString(raw, "source1_id")
	p.SourceID2 = optionalString(raw, "source2_id")
	if p.SourceID1 == "" || p.SourceID2 == "" {
		return p, apperr.New(apperr.KindMissingParameter,
			"compare_top requires both source1_id and source2_id")
	}
	return p, nil
}

func requireString(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", apperr.New(apperr.KindMissingParameter, "parameter %q is required", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", apperr.New(apperr.KindMissingParameter, "parameter %q must be a non-empty string", key)
	}
	return s, nil
}

func requireNumber(raw map[string]any, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, apperr.New(apperr.KindMissingParameter, "parameter %q is required", key)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, apperr.New(apperr.KindMissingParameter, "parameter %q must be a number, got %T", key, v)
	}
	return f, nil
}

func requirePositiveInt(raw map[string]any, key string) (int, error) {
	f, err := requireNumber(raw, key)
	if err != nil {
		return 0, err
	}
	n := int(f)
	if n <= 0 || float64(n) != f {
		return 0, apperr.New(apperr.KindMissingParameter, "parameter %q must be a positive integer", key)
	}
	return n, nil
}

func optionalString(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func optionalBool(raw map[string]any, key string, def bool) bool {
	if v, ok := raw[key]; ok && v != nil {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func optionalInt(raw map[string]any, key string, def int) int {
	if v, ok := raw[key]; ok && v != nil {
		if f, ok := toFloat(v); ok {
			return int(f)
		}
	}
	return def
}

// toFloat accepts the numeric shapes JSON decoding and LLM responses
// produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
