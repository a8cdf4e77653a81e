// Package query executes the closed set of deterministic tabular
// operations. Every operation is read-only against the tabular store
// and returns a (result rows, summary numbers) pair.
package query

import (
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/analytical-agent/backend/internal/tabular"
	"github.com/analytical-agent/backend/pkg/apperr"
	"github.com/analytical-agent/backend/pkg/logger"
)

const maxResultRows = 100

// Engine runs deterministic aggregation, filtering and sorting over
// tables owned by the tabular store.
type Engine struct {
	tables *tabular.Store
}

func NewEngine(tables *tabular.Store) *Engine {
	return &Engine{tables: tables}
}

// FilterThreshold selects rows where column <operator> value holds.
func (e *Engine) FilterThreshold(p FilterThresholdParams) ([]map[string]any, map[string]any, error) {
	if !validOperator(p.Operator) {
		return nil, nil, apperr.New(apperr.KindInvalidOperator, "invalid operator %q", p.Operator)
	}

	table, err := e.resolveSource(p.SourceID)
	if err != nil {
		return nil, nil, err
	}
	if !table.HasColumn(p.Column) {
		return nil, nil, apperr.New(apperr.KindColumnNotFound, "column %q not found in %s", p.Column, table.ID)
	}

	var matched []int
	for i := 0; i < table.NumRows(); i++ {
		v, ok := table.Float(i, p.Column)
		if !ok {
			continue
		}
		if applyOperator(v, p.Operator, p.Value) {
			matched = append(matched, i)
		}
	}

	resultRows := make([]map[string]any, 0, min(len(matched), maxResultRows))
	for _, idx := range matched {
		if len(resultRows) >= maxResultRows {
			break
		}
		resultRows = append(resultRows, table.RowMap(idx))
	}

	totalRows := table.NumRows()
	percentage := 0.0
	if totalRows > 0 {
		percentage = float64(len(matched)) / float64(totalRows) * 100
	}

	indices := matched
	if len(indices) > maxResultRows {
		indices = indices[:maxResultRows]
	}
	if indices == nil {
		indices = []int{}
	}

	numbers := map[string]any{
		"total_rows":         totalRows,
		"filtered_rows":      len(matched),
		"filter_column":      p.Column,
		"filter_operator":    p.Operator,
		"filter_value":       p.Value,
		"percentage_matched": percentage,
		"row_indices":        indices,
	}

	logger.Debug("Filter executed",
		zap.String("source_id", table.ID),
		zap.String("column", p.Column),
		zap.Int("matched", len(matched)),
	)

	return resultRows, numbers, nil
}

// Sort orders rows by column, stably.
func (e *Engine) Sort(p SortParams) ([]map[string]any, map[string]any, error) {
	table, err := e.resolveSource(p.SourceID)
	if err != nil {
		return nil, nil, err
	}
	if !table.HasColumn(p.Column) {
		return nil, nil, apperr.New(apperr.KindColumnNotFound, "column %q not found in %s", p.Column, table.ID)
	}

	order := sortedRowOrder(table, p.Column, p.Ascending)
	if p.Limit > 0 && p.Limit < len(order) {
		order = order[:p.Limit]
	}

	resultRows := make([]map[string]any, 0, len(order))
	for _, idx := range order {
		resultRows = append(resultRows, table.RowMap(idx))
	}

	var firstValue, lastValue any
	if len(order) > 0 {
		firstValue = columnValue(table, order[0], p.Column)
		lastValue = columnValue(table, order[len(order)-1], p.Column)
	}

	numbers := map[string]any{
		"total_rows":    table.NumRows(),
		"returned_rows": len(order),
		"sort_column":   p.Column,
		"ascending":     p.Ascending,
		"first_value":   firstValue,
		"last_value":    lastValue,
		"row_indices":   order,
	}

	return resultRows, numbers, nil
}

// TopN returns the first n rows of the sorted table plus rank summary
// numbers.
func (e *Engine) TopN(p TopNParams) ([]map[string]any, map[string]any, error) {
	table, err := e.resolveSource(p.SourceID)
	if err != nil {
		return nil, nil, err
	}
	if !table.HasColumn(p.Column) {
		return nil, nil, apperr.New(apperr.KindColumnNotFound, "column %q not found in %s", p.Column, table.ID)
	}

	order := sortedRowOrder(table, p.Column, p.Ascending)
	if p.N < len(order) {
		order = order[:p.N]
	}

	resultRows := make([]map[string]any, 0, len(order))
	topValues := make([]float64, 0, len(order))
	for _, idx := range order {
		resultRows = append(resultRows, table.RowMap(idx))
		if v, ok := table.Float(idx, p.Column); ok {
			topValues = append(topValues, v)
		}
	}

	numbers := map[string]any{
		"n":           p.N,
		"column":      p.Column,
		"top_values":  topValues,
		"top_indices": order,
	}
	if len(topValues) > 0 {
		numbers["highest_value"] = topValues[0]
		numbers["lowest_in_top"] = topValues[len(topValues)-1]
		numbers["average_of_top"] = mean(topValues)
	}

	return resultRows, numbers, nil
}

// CompareAverages has three modes: two-source comparison, group-by
// comparison within one source, and single-source statistics.
func (e *Engine) CompareAverages(p CompareAveragesParams) ([]map[string]any, map[string]any, error) {
	switch {
	case p.SourceID1 != "" && p.SourceID2 != "":
		return e.compareAveragesAcross(p)
	case p.GroupBy != "":
		return e.compareAveragesByGroup(p)
	default:
		return e.singleSourceStats(p)
	}
}

func (e *Engine) compareAveragesAcross(p CompareAveragesParams) ([]map[string]any, map[string]any, error) {
	t1, err := e.resolveSource(p.SourceID1)
	if err != nil {
		return nil, nil, err
	}
	t2, err := e.resolveSource(p.SourceID2)
	if err != nil {
		return nil, nil, err
	}
	if !t1.HasColumn(p.Column) || !t2.HasColumn(p.Column) {
		return nil, nil, apperr.New(apperr.KindColumnNotFound,
			"column %q not found in both sources", p.Column)
	}

	v1, _ := t1.ColumnFloats(p.Column)
	v2, _ := t2.ColumnFloats(p.Column)
	avg1, avg2 := mean(v1), mean(v2)
	diff := avg1 - avg2
	pctDiff := 0.0
	if avg2 != 0 {
		pctDiff = diff / avg2 * 100
	}

	numbers := map[string]any{
		p.SourceID1 + "_average": avg1,
		p.SourceID2 + "_average": avg2,
		"difference":             diff,
		"percent_difference":     pctDiff,
	}
	resultRows := []map[string]any{
		{"source_id": p.SourceID1, "average": avg1},
		{"source_id": p.SourceID2, "average": avg2},
	}
	return resultRows, numbers, nil
}

func (e *Engine) compareAveragesByGroup(p CompareAveragesParams) ([]map[string]any, map[string]any, error) {
	table, err := e.resolveSource(p.SourceID1)
	if err != nil {
		return nil, nil, err
	}
	if !table.HasColumn(p.Column) || !table.HasColumn(p.GroupBy) {
		return nil, nil, apperr.New(apperr.KindColumnNotFound,
			"column %q or group column %q not found in %s", p.Column, p.GroupBy, table.ID)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	var groupOrder []string
	for i := 0; i < table.NumRows(); i++ {
		group, ok := table.Cell(i, p.GroupBy)
		if !ok {
			continue
		}
		v, ok := table.Float(i, p.Column)
		if !ok {
			continue
		}
		if _, seen := counts[group]; !seen {
			groupOrder = append(groupOrder, group)
		}
		sums[group] += v
		counts[group]++
	}
	sort.Strings(groupOrder)

	groupAverages := make(map[string]float64, len(groupOrder))
	resultRows := make([]map[string]any, 0, len(groupOrder))
	maxAvg := math.Inf(-1)
	minAvg := math.Inf(1)
	for _, group := range groupOrder {
		avg := sums[group] / float64(counts[group])
		groupAverages[group] = avg
		resultRows = append(resultRows, map[string]any{p.GroupBy: group, "average": avg})
		if avg > maxAvg {
			maxAvg = avg
		}
		if avg < minAvg {
			minAvg = avg
		}
	}

	values, _ := table.ColumnFloats(p.Column)
	numbers := map[string]any{
		"average_by_" + p.GroupBy: groupAverages,
		"overall_average":         mean(values),
	}
	if len(groupOrder) > 0 {
		numbers["max_average"] = maxAvg
		numbers["min_average"] = minAvg
	}

	return resultRows, numbers, nil
}

func (e *Engine) singleSourceStats(p CompareAveragesParams) ([]map[string]any, map[string]any, error) {
	table, err := e.resolveSource(p.SourceID1)
	if err != nil {
		return nil, nil, err
	}
	if !table.HasColumn(p.Column) {
		return nil, nil, apperr.New(apperr.KindColumnNotFound, "column %q not found in %s", p.Column, table.ID)
	}

	values, _ := table.ColumnFloats(p.Column)
	numbers := map[string]any{
		"average": mean(values),
		"std_dev": sampleStdDev(values),
		"min":     0.0,
		"max":     0.0,
		"count":   table.NumRows(),
	}
	if len(values) > 0 {
		numbers["min"] = minFloat(values)
		numbers["max"] = maxFloat(values)
	}

	resultRows := make([]map[string]any, 0, len(numbers))
	for _, key := range []string{"average", "std_dev", "min", "max", "count"} {
		resultRows = append(resultRows, map[string]any{"metric": key, "value": numbers[key]})
	}

	return resultRows, numbers, nil
}

// CompareTop computes the n largest rows per source independently and
// zips them by rank into one combined table.
func (e *Engine) CompareTop(p CompareTopParams) ([]map[string]any, map[string]any, error) {
	if p.SourceID1 == "" || p.SourceID2 == "" {
		return nil, nil, apperr.New(apperr.KindMissingParameter,
			"compare_top requires both source1_id and source2_id")
	}

	t1, err := e.resolveSource(p.SourceID1)
	if err != nil {
		return nil, nil, err
	}
	t2, err := e.resolveSource(p.SourceID2)
	if err != nil {
		return nil, nil, err
	}
	if !t1.HasColumn(p.Column) || !t2.HasColumn(p.Column) {
		return nil, nil, apperr.New(apperr.KindColumnNotFound,
			"column %q not found in both sources", p.Column)
	}

	values1, indices1 := nLargest(t1, p.Column, p.N)
	values2, indices2 := nLargest(t2, p.Column, p.N)

	var resultRows []map[string]any
	for i := 0; i < p.N; i++ {
		row := map[string]any{"rank": i + 1}
		if i < len(values1) {
			row[p.SourceID1+"_"+p.Column] = values1[i]
			row[p.SourceID1+"_index"] = indices1[i]
		}
		if i < len(values2) {
			row[p.SourceID2+"_"+p.Column] = values2[i]
			row[p.SourceID2+"_index"] = indices2[i]
		}
		resultRows = append(resultRows, row)
	}

	numbers := map[string]any{
		"n":                         p.N,
		"column":                    p.Column,
		p.SourceID1 + "_top_values": values1,
		p.SourceID2 + "_top_values": values2,
	}
	if len(values1) > 0 {
		numbers[p.SourceID1+"_average"] = mean(values1)
		numbers[p.SourceID1+"_max"] = maxFloat(values1)
	}
	if len(values2) > 0 {
		numbers[p.SourceID2+"_average"] = mean(values2)
		numbers[p.SourceID2+"_max"] = maxFloat(values2)
	}

	return resultRows, numbers, nil
}

// resolveSource returns the table for id, falling back to the
// earliest-ingested table when id is empty.
func (e *Engine) resolveSource(id string) (*tabular.Table, error) {
	if id == "" {
		first, ok := e.tables.First()
		if !ok {
			return nil, apperr.New(apperr.KindNoData, "no tabular sources loaded")
		}
		id = first
	}
	table, ok := e.tables.Get(id)
	if !ok {
		return nil, apperr.New(apperr.KindExecution, "source %q is not loaded", id)
	}
	return table, nil
}

func validOperator(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "==", "!=":
		return true
	default:
		return false
	}
}

func applyOperator(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case "<":
		return v < threshold
	case ">=":
		return v >= threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

// sortedRowOrder returns row positions stably sorted by the column.
// Rows whose cell is missing or non-coercible sort after all coercible
// rows regardless of direction.
func sortedRowOrder(table *tabular.Table, column string, ascending bool) []int {
	numeric := table.Schema.ColumnKinds[column] == tabular.KindNumeric

	order := make([]int, table.NumRows())
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		if numeric {
			va, oka := table.Float(order[a], column)
			vb, okb := table.Float(order[b], column)
			if oka != okb {
				return oka
			}
			if !oka {
				return false
			}
			if ascending {
				return va < vb
			}
			return va > vb
		}

		sa, oka := table.Cell(order[a], column)
		sb, okb := table.Cell(order[b], column)
		if oka != okb {
			return oka
		}
		if !oka {
			return false
		}
		if ascending {
			return strings.Compare(sa, sb) < 0
		}
		return strings.Compare(sa, sb) > 0
	})

	return order
}

// nLargest returns up to n column values in descending order together
// with their row positions, skipping missing cells.
func nLargest(table *tabular.Table, column string, n int) ([]float64, []int) {
	values, positions := table.ColumnFloats(column)

	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return values[order[a]] > values[order[b]]
	})

	if n > len(order) {
		n = len(order)
	}
	outValues := make([]float64, n)
	outPositions := make([]int, n)
	for i := 0; i < n; i++ {
		outValues[i] = values[order[i]]
		outPositions[i] = positions[order[i]]
	}
	return outValues, outPositions
}

func columnValue(table *tabular.Table, row int, column string) any {
	if v, ok := table.Float(row, column); ok && table.Schema.ColumnKinds[column] == tabular.KindNumeric {
		return v
	}
	cell, ok := table.Cell(row, column)
	if !ok {
		return nil
	}
	return cell
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev is the n-1 standard deviation, matching the convention
// of the analytical summaries this feeds.
func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func minFloat(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxFloat(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
