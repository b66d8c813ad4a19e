// Package columnar materializes chain results as Apache Arrow tables.
package columnar

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	chain "github.com/sk8tz/Chain"
)

// ToArrow returns every column of the result as an arrow.Table. The caller
// releases the table. A nil allocator means memory.DefaultAllocator.
func ToArrow(b chain.CommandBuilder, mem memory.Allocator) *chain.Materializer[arrow.Table] {
	return chain.FromTable(b, chain.AllColumns, func(_ chain.DataSource, t *chain.Table) (arrow.Table, error) {
		return FromTable(t, mem)
	})
}

// FromTable converts a snapshot. Column types are inferred from the values:
// integers become int64, mixed numbers float64, times a UTC microsecond
// timestamp, and anything that does not agree on one type a string. An
// all-NULL column is a string column of nulls.
func FromTable(t *chain.Table, mem memory.Allocator) (arrow.Table, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	names := t.Columns()
	rows := t.Rows()

	fields := make([]arrow.Field, len(names))
	kinds := make([]kind, len(names))
	for i, name := range names {
		kinds[i] = inferKind(rows, i)
		fields[i] = arrow.Field{Name: name, Type: kinds[i].dataType(), Nullable: true}
	}
	cols, err := buildColumns(mem, fields, kinds, rows)
	if err != nil {
		return nil, err
	}

	tbl := array.NewTable(arrow.NewSchema(fields, nil), cols, int64(len(rows)))
	releaseColumns(cols)
	return tbl, nil
}

// buildColumns builds one column per field. On failure every column built
// so far is released.
func buildColumns(mem memory.Allocator, fields []arrow.Field, kinds []kind, rows []*chain.Row) ([]arrow.Column, error) {
	cols := make([]arrow.Column, 0, len(fields))
	for i, f := range fields {
		bld := array.NewBuilder(mem, f.Type)
		for _, r := range rows {
			if err := appendValue(bld, kinds[i], r.At(i)); err != nil {
				bld.Release()
				releaseColumns(cols)
				return nil, fmt.Errorf("columnar: column %q: %w", f.Name, err)
			}
		}
		arr := bld.NewArray()
		bld.Release()
		cols = append(cols, arrow.NewColumnFromArr(f, arr))
		arr.Release()
	}
	return cols, nil
}

func releaseColumns(cols []arrow.Column) {
	for i := range cols {
		cols[i].Release()
	}
}

type kind uint8

const (
	kindString kind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
	kindBinary
)

func (k kind) dataType() arrow.DataType {
	switch k {
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat:
		return arrow.PrimitiveTypes.Float64
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	case kindTime:
		return arrow.FixedWidthTypes.Timestamp_us
	case kindBinary:
		return arrow.BinaryTypes.Binary
	default:
		return arrow.BinaryTypes.String
	}
}

func kindOf(v any) kind {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kindInt
	case float32, float64:
		return kindFloat
	case bool:
		return kindBool
	case time.Time:
		return kindTime
	case []byte:
		return kindBinary
	default:
		return kindString
	}
}

// inferKind picks one type for column i; ints widen to floats, any other
// disagreement falls back to strings.
func inferKind(rows []*chain.Row, i int) kind {
	seen := false
	var k kind
	for _, r := range rows {
		v := r.At(i)
		if v == nil {
			continue
		}
		vk := kindOf(v)
		switch {
		case !seen:
			k, seen = vk, true
		case k == vk:
		case (k == kindInt && vk == kindFloat) || (k == kindFloat && vk == kindInt):
			k = kindFloat
		default:
			return kindString
		}
	}
	return k
}

func appendValue(b array.Builder, k kind, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch k {
	case kindInt:
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		b.(*array.Int64Builder).Append(n)
	case kindFloat:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		b.(*array.Float64Builder).Append(f)
	case kindBool:
		b.(*array.BooleanBuilder).Append(v.(bool))
	case kindTime:
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(v.(time.Time).UTC().UnixMicro()))
	case kindBinary:
		b.(*array.BinaryBuilder).Append(v.([]byte))
	default:
		switch s := v.(type) {
		case string:
			b.(*array.StringBuilder).Append(s)
		case []byte:
			b.(*array.StringBuilder).Append(string(s))
		case time.Time:
			b.(*array.StringBuilder).Append(s.Format(time.RFC3339Nano))
		default:
			b.(*array.StringBuilder).Append(fmt.Sprint(v))
		}
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	}
	return 0, fmt.Errorf("unexpected %T in an integer column", v)
}

func toFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float32:
		return float64(f), nil
	case float64:
		return f, nil
	}
	n, err := toInt64(v)
	return float64(n), err
}
