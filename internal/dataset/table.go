// Package dataset loads per-sector historical demand tables and the global
// forecast parameters that drive a run.
package dataset

import (
	"math"
	"sort"
)

// Table holds one sector's historical series: a Year column plus zero or
// more named numeric columns. Missing values are represented as NaN so a
// sparse column keeps its row alignment with Year.
type Table struct {
	years   []int
	columns map[string][]float64
	order   []string // Column names in load order, Year excluded
}

// NewTable creates an empty table for the given years.
// Years are sorted ascending; duplicate years are kept as-is and are the
// loader's responsibility to reject.
func NewTable(years []int) *Table {
	sorted := make([]int, len(years))
	copy(sorted, years)
	sort.Ints(sorted)
	return &Table{
		years:   sorted,
		columns: make(map[string][]float64),
	}
}

// Years returns the Year column, ascending.
func (t *Table) Years() []int {
	out := make([]int, len(t.years))
	copy(out, t.years)
	return out
}

// NumRows returns the number of rows in the table.
func (t *Table) NumRows() int {
	return len(t.years)
}

// SetColumn adds or replaces a named column. The slice length must match
// the number of rows; a shorter slice is padded with NaN.
func (t *Table) SetColumn(name string, values []float64) {
	col := make([]float64, len(t.years))
	for i := range col {
		if i < len(values) {
			col[i] = values[i]
		} else {
			col[i] = math.NaN()
		}
	}
	if _, exists := t.columns[name]; !exists {
		t.order = append(t.order, name)
	}
	t.columns[name] = col
}

// Column returns a copy of the named column and whether it exists.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.columns[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, true
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// ColumnNames returns all column names except Year, in load order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Value returns the value at the given row of the named column.
// Returns NaN for unknown columns or out-of-range rows.
func (t *Table) Value(name string, row int) float64 {
	col, ok := t.columns[name]
	if !ok || row < 0 || row >= len(col) {
		return math.NaN()
	}
	return col[row]
}

// YearIndex returns the row index of the given year, or -1.
func (t *Table) YearIndex(year int) int {
	for i, y := range t.years {
		if y == year {
			return i
		}
	}
	return -1
}

// LastObservedYear returns the latest year with a non-missing value in the
// named column. ok is false when the column is absent or entirely missing.
func (t *Table) LastObservedYear(name string) (year int, value float64, ok bool) {
	col, exists := t.columns[name]
	if !exists {
		return 0, 0, false
	}
	for i := len(col) - 1; i >= 0; i-- {
		if !math.IsNaN(col[i]) {
			return t.years[i], col[i], true
		}
	}
	return 0, 0, false
}

// ObservedCount returns the number of non-missing values in the named column.
func (t *Table) ObservedCount(name string) int {
	col, ok := t.columns[name]
	if !ok {
		return 0
	}
	n := 0
	for _, v := range col {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// FilterYears returns a new table containing only rows whose year satisfies
// the predicate. Column order is preserved.
func (t *Table) FilterYears(keep func(year int) bool) *Table {
	var years []int
	var rows []int
	for i, y := range t.years {
		if keep(y) {
			years = append(years, y)
			rows = append(rows, i)
		}
	}
	out := NewTable(years)
	for _, name := range t.order {
		src := t.columns[name]
		vals := make([]float64, len(rows))
		for j, i := range rows {
			vals[j] = src[i]
		}
		out.SetColumn(name, vals)
	}
	return out
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := NewTable(t.years)
	for _, name := range t.order {
		out.SetColumn(name, t.columns[name])
	}
	return out
}

// Mean returns the mean of the non-missing values in the named column,
// or 0 when the column is absent or entirely missing.
func (t *Table) Mean(name string) float64 {
	col, ok := t.columns[name]
	if !ok {
		return 0
	}
	sum, n := 0.0, 0
	for _, v := range col {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
