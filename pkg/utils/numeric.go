package utils

import (
	"strconv"
	"strings"
)

// NormalizeNumeric strips common decorations from a numeric-looking cell
// value: surrounding whitespace, thousands separators, a leading currency
// symbol and a trailing percent sign. Values that still do not parse as a
// number are returned unchanged; this is a cosmetic pre-pass run before
// ingestion, never inside it.
func NormalizeNumeric(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}

	candidate := trimmed
	for _, symbol := range []string{"$", "€", "£", "₹"} {
		candidate = strings.TrimPrefix(candidate, symbol)
	}
	candidate = strings.TrimSuffix(candidate, "%")
	candidate = strings.ReplaceAll(candidate, ",", "")
	candidate = strings.TrimSpace(candidate)

	if _, err := strconv.ParseFloat(candidate, 64); err != nil {
		return value
	}
	return candidate
}

// NormalizeRecords applies NormalizeNumeric to every cell of every data
// row, leaving the header row untouched.
func NormalizeRecords(records [][]string) [][]string {
	if len(records) < 2 {
		return records
	}
	out := make([][]string, len(records))
	out[0] = records[0]
	for i := 1; i < len(records); i++ {
		row := make([]string, len(records[i]))
		for j, cell := range records[i] {
			row[j] = NormalizeNumeric(cell)
		}
		out[i] = row
	}
	return out
}
