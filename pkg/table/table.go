// Package table holds the in-memory, string-typed tables the resolver reads
// records and evidence from and writes resolved records back to.
package table

import (
	"fmt"
	"slices"
	"strings"
)

// Table is a named header plus rows of cells. Every row has exactly
// len(Columns) cells once it has been through New or Append.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string

	index map[string]int
}

// ColumnError reports a column that a caller required but the table lacks.
type ColumnError struct {
	Table  string
	Column string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("table %q has no column %q", e.Table, e.Column)
}

// New creates an empty table with the given header. Header cells are
// trimmed; duplicate header names are rejected.
func New(name string, columns []string) (*Table, error) {
	cols := make([]string, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		c = strings.TrimSpace(c)
		if _, ok := seen[c]; ok {
			return nil, fmt.Errorf("table %q: duplicate column %q", name, c)
		}
		seen[c] = struct{}{}
		cols[i] = c
	}
	t := &Table{Name: name, Columns: cols}
	t.reindex()
	return t, nil
}

// MustNew is New for statically known headers.
func MustNew(name string, columns ...string) *Table {
	t, err := New(name, columns)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// Append adds a row, padding short rows with empty cells and truncating
// cells beyond the header.
func (t *Table) Append(cells ...string) {
	row := make([]string, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of a column.
func (t *Table) ColumnIndex(name string) (int, bool) {
	if t.index == nil {
		t.reindex()
	}
	i, ok := t.index[name]
	return i, ok
}

// HasColumn reports whether the column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.ColumnIndex(name)
	return ok
}

// Require returns the positions of all named columns or a *ColumnError for
// the first one that is missing.
func (t *Table) Require(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		pos, ok := t.ColumnIndex(n)
		if !ok {
			return nil, &ColumnError{Table: t.Name, Column: n}
		}
		idx[i] = pos
	}
	return idx, nil
}

// Column returns a copy of the values of one column.
func (t *Table) Column(name string) ([]string, error) {
	idx, err := t.Require(name)
	if err != nil {
		return nil, err
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx[0]]
	}
	return values, nil
}

// Get returns a single cell by row number and column name.
func (t *Table) Get(row int, column string) (string, error) {
	idx, err := t.Require(column)
	if err != nil {
		return "", err
	}
	return t.Rows[row][idx[0]], nil
}

// RenameColumn renames a column in place.
func (t *Table) RenameColumn(from, to string) error {
	idx, err := t.Require(from)
	if err != nil {
		return err
	}
	if from == to {
		return nil
	}
	if t.HasColumn(to) {
		return fmt.Errorf("table %q: cannot rename %q to existing column %q", t.Name, from, to)
	}
	t.Columns[idx[0]] = to
	t.reindex()
	return nil
}

// InsertColumn inserts a column at position at (0 <= at <= len(Columns))
// with one value per row.
func (t *Table) InsertColumn(at int, name string, values []string) error {
	if at < 0 || at > len(t.Columns) {
		return fmt.Errorf("table %q: column position %d out of range", t.Name, at)
	}
	if t.HasColumn(name) {
		return fmt.Errorf("table %q: column %q already exists", t.Name, name)
	}
	if len(values) != len(t.Rows) {
		return fmt.Errorf("table %q: column %q has %d values for %d rows", t.Name, name, len(values), len(t.Rows))
	}
	t.Columns = slices.Insert(t.Columns, at, name)
	for i := range t.Rows {
		t.Rows[i] = slices.Insert(t.Rows[i], at, values[i])
	}
	t.reindex()
	return nil
}

// SetColumn overwrites the values of an existing column.
func (t *Table) SetColumn(name string, values []string) error {
	idx, err := t.Require(name)
	if err != nil {
		return err
	}
	if len(values) != len(t.Rows) {
		return fmt.Errorf("table %q: column %q has %d values for %d rows", t.Name, name, len(values), len(t.Rows))
	}
	for i := range t.Rows {
		t.Rows[i][idx[0]] = values[i]
	}
	return nil
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := &Table{
		Name:    t.Name,
		Columns: slices.Clone(t.Columns),
		Rows:    make([][]string, len(t.Rows)),
	}
	for i, row := range t.Rows {
		c.Rows[i] = slices.Clone(row)
	}
	c.reindex()
	return c
}
