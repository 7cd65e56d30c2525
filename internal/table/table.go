// Package table provides the in-memory tabular representation shared by the
// crawl, sync, cleaning and storage layers, plus its CSV interchange format.
//
// A cell holds one of nil, int64, float64 or string. Nil is a missing value.
package table

import (
	"fmt"
	"strings"
)

// Table is an ordered set of named columns over rows of typed cells.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New creates an empty table with the given columns.
func New(columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Index returns the position of a column, or -1 when absent.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	return t.Index(name) >= 0
}

// FirstPresent returns the first of the candidate names that is a column.
func (t *Table) FirstPresent(candidates ...string) (string, bool) {
	for _, c := range candidates {
		if t.Has(c) {
			return c, true
		}
	}
	return "", false
}

// Get returns the cell at row i of the named column, nil when the column is absent.
func (t *Table) Get(i int, column string) any {
	idx := t.Index(column)
	if idx < 0 {
		return nil
	}
	return t.Rows[i][idx]
}

// Append adds a row. The value count must match the column count.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("append row: got %d values for %d columns", len(values), len(t.Columns))
	}
	row := make([]any, len(values))
	copy(row, values)
	t.Rows = append(t.Rows, row)
	return nil
}

// AppendMap adds a row from a column-keyed map. Unknown keys are ignored.
func (t *Table) AppendMap(values map[string]any) {
	row := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		row[i] = values[c]
	}
	t.Rows = append(t.Rows, row)
}

// SetColumn assigns a constant value to a column for every row, adding the
// column when it does not exist.
func (t *Table) SetColumn(name string, value any) {
	idx := t.Index(name)
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], value)
		}
		return
	}
	for i := range t.Rows {
		t.Rows[i][idx] = value
	}
}

// Column returns a copy of a column's cells.
func (t *Table) Column(name string) []any {
	idx := t.Index(name)
	if idx < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Concat appends other's rows, aligning by column name. Columns only present
// in other are added and back-filled with nil.
func (t *Table) Concat(other *Table) {
	if other == nil {
		return
	}
	for _, c := range other.Columns {
		if !t.Has(c) {
			t.SetColumn(c, nil)
		}
	}
	mapping := make([]int, len(other.Columns))
	for i, c := range other.Columns {
		mapping[i] = t.Index(c)
	}
	for _, src := range other.Rows {
		row := make([]any, len(t.Columns))
		for i, v := range src {
			row[mapping[i]] = v
		}
		t.Rows = append(t.Rows, row)
	}
}

// Slice returns rows [start, end) sharing the column header. Bounds are clamped.
func (t *Table) Slice(start, end int) *Table {
	if start < 0 {
		start = 0
	}
	if end > len(t.Rows) {
		end = len(t.Rows)
	}
	out := New(t.Columns...)
	if start < end {
		out.Rows = t.Rows[start:end]
	}
	return out
}

// Clone returns a deep copy of the header and row slices.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = append([]any(nil), row...)
	}
	return out
}

// Group is a subset of rows sharing the same values in the grouping columns.
type Group struct {
	Values []any
	Table  *Table
}

// GroupBy partitions rows by the given columns, preserving first-seen order.
func (t *Table) GroupBy(columns ...string) []Group {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
	}

	var groups []Group
	positions := make(map[string]int)
	for _, row := range t.Rows {
		values := make([]any, len(idx))
		for i, j := range idx {
			if j >= 0 {
				values[i] = row[j]
			}
		}
		key := Key(values)
		pos, ok := positions[key]
		if !ok {
			pos = len(groups)
			positions[key] = pos
			groups = append(groups, Group{Values: values, Table: New(t.Columns...)})
		}
		groups[pos].Table.Rows = append(groups[pos].Table.Rows, row)
	}
	return groups
}

// Key joins stringified cells with "|", rendering nil as the empty string.
func Key(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FormatCell(v)
	}
	return strings.Join(parts, "|")
}

// RowKey builds the Key of a row restricted to the given column positions.
func RowKey(row []any, positions []int) string {
	values := make([]any, len(positions))
	for i, p := range positions {
		values[i] = row[p]
	}
	return Key(values)
}
