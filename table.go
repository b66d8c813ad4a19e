package chain

import (
	"database/sql"
	"fmt"
	"reflect"
)

// columnIndex is shared by a table and all of its rows.
type columnIndex struct {
	names []string
	pos   map[string]int // normalized name -> ordinal
}

func newColumnIndex(names []string) (*columnIndex, error) {
	if len(names) == 0 {
		return nil, ErrNoColumns
	}
	ci := &columnIndex{names: append([]string(nil), names...), pos: make(map[string]int, len(names))}
	for i, n := range names {
		key := normalizeColAscii(n)
		if _, dup := ci.pos[key]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, n)
		}
		ci.pos[key] = i
	}
	return ci, nil
}

func (ci *columnIndex) lookup(name string) (int, bool) {
	i, ok := ci.pos[normalizeColAscii(name)]
	return i, ok
}

// Table is a detached snapshot of a result set. It has no reference to the
// cursor or connection it was read from and is never modified.
type Table struct {
	cols  *columnIndex
	types []reflect.Type
	rows  []*Row
}

// NewTable reads rows to the end and closes it. A result without columns
// is an error; a result without rows is an empty table.
func NewTable(rows *sql.Rows) (_ *Table, err error) {
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	ci, err := newColumnIndex(names)
	if err != nil {
		return nil, err
	}

	types := make([]reflect.Type, len(names))
	if cts, cterr := rows.ColumnTypes(); cterr == nil && len(cts) == len(names) {
		for i, ct := range cts {
			types[i] = ct.ScanType()
		}
	}

	t := &Table{cols: ci, types: types}
	for rows.Next() {
		vals := make([]any, len(names))
		dests := make([]any, len(names))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		t.rows = append(t.rows, &Row{cols: ci, values: vals})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewTableFromRecords builds a table from in-memory values. Every record
// must have one value per column. Column types are taken from the first
// non-nil value of each column.
func NewTableFromRecords(columns []string, records [][]any) (*Table, error) {
	ci, err := newColumnIndex(columns)
	if err != nil {
		return nil, err
	}
	t := &Table{cols: ci, types: make([]reflect.Type, len(columns))}
	for n, rec := range records {
		if len(rec) != len(columns) {
			return nil, fmt.Errorf("chain: record %d has %d values for %d columns", n, len(rec), len(columns))
		}
		vals := append([]any(nil), rec...)
		for i, v := range vals {
			if t.types[i] == nil && v != nil {
				t.types[i] = reflect.TypeOf(v)
			}
		}
		t.rows = append(t.rows, &Row{cols: ci, values: vals})
	}
	return t, nil
}

// Columns returns the column names in result order.
func (t *Table) Columns() []string { return append([]string(nil), t.cols.names...) }

// ColumnType returns the declared scan type of a column. It is nil when the
// driver does not report one.
func (t *Table) ColumnType(name string) (reflect.Type, bool) {
	i, ok := t.cols.lookup(name)
	if !ok {
		return nil, false
	}
	return t.types[i], true
}

// HasColumn reports whether the table has the column (case-insensitive).
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols.lookup(name)
	return ok
}

// Rows returns the rows in result order. The slice is a copy; the rows are
// shared.
func (t *Table) Rows() []*Row { return append([]*Row(nil), t.rows...) }

// Row returns the i-th row.
func (t *Table) Row(i int) *Row { return t.rows[i] }

// Len is the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Row is one record of a Table. NULL is nil.
type Row struct {
	cols   *columnIndex
	values []any
}

// Get looks a value up by column name, case-insensitively.
func (r *Row) Get(name string) (any, bool) {
	i, ok := r.cols.lookup(name)
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Value is Get without the presence flag.
func (r *Row) Value(name string) any {
	v, _ := r.Get(name)
	return v
}

// At returns the value of the i-th column.
func (r *Row) At(i int) any { return r.values[i] }

// Columns returns the column names in result order.
func (r *Row) Columns() []string { return append([]string(nil), r.cols.names...) }

// Values returns a copy of the values in column order.
func (r *Row) Values() []any { return append([]any(nil), r.values...) }

// Len is the number of columns.
func (r *Row) Len() int { return len(r.values) }

// Map copies the row into a map keyed by column name as reported.
func (r *Row) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, n := range r.cols.names {
		m[n] = r.values[i]
	}
	return m
}
