package chain

import (
	"database/sql"
	"reflect"
)

// ToRow returns the first row of the result.
//
// It returns sql.ErrNoRows if the result is empty and ignores rows after the
// first; use a filter or Limit(1) when at most one row may match.
func ToRow(b CommandBuilder) *Materializer[*Row] {
	return FromTable(b, AllColumns, func(_ DataSource, t *Table) (*Row, error) {
		if t.Len() == 0 {
			return nil, sql.ErrNoRows
		}
		return t.Row(0), nil
	})
}

// ToObject maps the first row of the result into a T.
//
// It returns sql.ErrNoRows if the result is empty. Mapping follows the rules
// of ToCollection.
//
// Example:
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//
//	u, err := chain.ToObject[User](db.From("users").Where(map[string]any{"id": 42})).
//		ExecuteContext(ctx, nil)
//	if err != nil {
//	    if errors.Is(err, sql.ErrNoRows) {
//	        // handle not found
//	    } else {
//	        // handle other errors
//	    }
//	}
func ToObject[T any](b CommandBuilder, opts ...MapOption) *Materializer[T] {
	return FromTable(b, columnsFor[T](), func(ds DataSource, t *Table) (T, error) {
		var zero T
		if t.Len() == 0 {
			return zero, sql.ErrNoRows
		}
		conv, err := newPopulator[T](getMapper(), t.cols, mapOptions(ds, opts))
		if err != nil {
			return zero, err
		}
		return conv(t.Row(0))
	})
}

// ToScalar returns the first column of the first row converted to T. With
// a table builder the key column is selected.
//
//	count, err := chain.ToScalar[int64](db.SQL(`SELECT COUNT(*) FROM users`)).Execute(nil)
func ToScalar[T any](b CommandBuilder) *Materializer[T] {
	return FromTable(b, AutoSelectColumns, func(ds DataSource, t *Table) (T, error) {
		var v T
		if t.Len() == 0 {
			return v, sql.ErrNoRows
		}
		o := mapOptions(ds, nil)
		if err := assignValue(reflect.ValueOf(&v).Elem(), t.Row(0).At(0), o.Nulls); err != nil {
			return v, mappingErrorf(reflect.TypeFor[T](), t.cols.names[0], "%v", err)
		}
		return v, nil
	})
}
