package chain

import (
	"fmt"
	"strings"
)

type selectionMode uint8

const (
	selectAuto selectionMode = iota
	selectNone
	selectAll
	selectList
)

// ColumnSelection is what a materializer asks the builder to return.
type ColumnSelection struct {
	mode  selectionMode
	names []string
}

var (
	// AutoSelectColumns lets the builder pick the key: the primary key,
	// else the identity column.
	AutoSelectColumns = ColumnSelection{mode: selectAuto}

	// NoColumns omits the result-producing clause.
	NoColumns = ColumnSelection{mode: selectNone}

	// AllColumns returns every column.
	AllColumns = ColumnSelection{mode: selectAll}
)

// Columns asks for the named columns. Names the table lacks are skipped.
func Columns(names ...string) ColumnSelection {
	return ColumnSelection{mode: selectList, names: append([]string(nil), names...)}
}

func (s ColumnSelection) IsAuto() bool { return s.mode == selectAuto }
func (s ColumnSelection) IsNone() bool { return s.mode == selectNone }
func (s ColumnSelection) IsAll() bool  { return s.mode == selectAll }

// Names returns the explicit list, or nil for the sentinels.
func (s ColumnSelection) Names() []string { return append([]string(nil), s.names...) }

func (s ColumnSelection) String() string {
	switch s.mode {
	case selectAuto:
		return "auto"
	case selectNone:
		return "none"
	case selectAll:
		return "all"
	default:
		return "[" + strings.Join(s.names, ", ") + "]"
	}
}

// Resolve applies the selection to a table definition and returns the
// columns to fetch, in table order. NoColumns resolves to nil.
func (s ColumnSelection) Resolve(t *TableSchema) ([]ColumnSchema, error) {
	switch s.mode {
	case selectNone:
		return nil, nil
	case selectAll:
		if len(t.Columns) == 0 {
			return nil, fmt.Errorf("%w: %s has no columns", ErrNoColumns, t.Name)
		}
		return append([]ColumnSchema(nil), t.Columns...), nil
	case selectAuto:
		if keys := t.PrimaryKeys(); len(keys) > 0 {
			return keys, nil
		}
		if ids := t.IdentityColumns(); len(ids) > 0 {
			return ids, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoKeyColumns, t.Name)
	}

	want := make(map[string]struct{}, len(s.names))
	for _, n := range s.names {
		want[normalizeColAscii(n)] = struct{}{}
	}
	var out []ColumnSchema
	for _, c := range t.Columns {
		if _, ok := want[normalizeColAscii(c.Name)]; ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: none of %v exist in %s", ErrNoColumns, s.names, t.Name)
	}
	return out, nil
}
