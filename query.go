package chain

import (
	"reflect"
	"strings"
)

// ToTable returns the full result as a detached Table.
func ToTable(b CommandBuilder) *Materializer[*Table] {
	return FromTable(b, AllColumns, func(_ DataSource, t *Table) (*Table, error) { return t, nil })
}

// ToCollection maps every result row into a T and returns them in order.
//
// T may be a struct (supports `db` tags and ,inline), a pointer to one, or a
// scalar when the result has a single column. Struct fields bind by `db:"name"`
// first, otherwise by case-insensitive field name. Extra columns are ignored;
// fields without a column keep their zero value unless strict mode is on, in
// which case the result is a *MappingError. Values implementing ChangeTracker
// are marked clean before they are returned.
//
// For a struct T the builder is asked for the struct's columns only.
//
// Example:
//
//	type User struct {
//	    ID    int64  `db:"id"`
//	    Email string `db:"email"`
//	}
//
//	users, err := chain.ToCollection[User](db.From("users").Where(map[string]any{"active": true})).
//		ExecuteContext(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, u := range users {
//	    fmt.Println(u.ID, u.Email)
//	}
func ToCollection[T any](b CommandBuilder, opts ...MapOption) *Materializer[[]T] {
	return FromTable(b, columnsFor[T](), func(ds DataSource, t *Table) ([]T, error) {
		o := mapOptions(ds, opts)
		out := make([]T, 0, t.Len())
		for v, err := range objects[T](getMapper(), t, o) {
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	})
}

// ToConstructed builds every row through a constructor registered with
// RegisterConstructor. params names the constructor to use; when it is empty
// the constructor with the most parameters the result can satisfy is chosen.
// A parameter without a same-named column is a *MappingError naming it.
//
// Example:
//
//	type Point struct{ X, Y int }
//	_ = chain.RegisterConstructor[Point](func(x, y int) Point { return Point{x, y} }, "x", "y")
//	pts, err := chain.ToConstructed[Point](db.SQL(`SELECT x, y FROM points`), "x", "y").Execute(nil)
func ToConstructed[T any](b CommandBuilder, params ...string) *Materializer[[]T] {
	m := FromTable(b, constructorColumns(params), func(ds DataSource, t *Table) ([]T, error) {
		o := mapOptions(ds, nil)
		out := make([]T, 0, t.Len())
		for e, err := range constructWithRows[T](getMapper(), t, params, o) {
			if err != nil {
				return nil, err
			}
			out = append(out, e.Value)
		}
		return out, nil
	})
	if m.err == nil {
		m.err = checkConstructor[T](params)
	}
	return m
}

// ToConstructedWithRows is ToConstructed that pairs each value with the row
// it was built from. The rows are the Table's own, in result order.
func ToConstructedWithRows[T any](b CommandBuilder, params ...string) *Materializer[[]Echo[T]] {
	m := FromTable(b, constructorColumns(params), func(ds DataSource, t *Table) ([]Echo[T], error) {
		o := mapOptions(ds, nil)
		out := make([]Echo[T], 0, t.Len())
		for e, err := range constructWithRows[T](getMapper(), t, params, o) {
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
		return out, nil
	})
	if m.err == nil {
		m.err = checkConstructor[T](params)
	}
	return m
}

// columnsFor asks for a struct's mapped columns, or lets the builder choose
// for scalars.
func columnsFor[T any]() ColumnSelection {
	rt := reflect.TypeFor[T]()
	if !isStruct(rt) {
		return AutoSelectColumns
	}
	md, err := getMapper().Metadata(rt)
	if err != nil || len(md.Properties) == 0 {
		return AllColumns
	}
	return Columns(md.ColumnNames()...)
}

func constructorColumns(params []string) ColumnSelection {
	if len(params) == 0 {
		return AllColumns
	}
	return Columns(params...)
}

// checkConstructor rejects a signature that no registered constructor has.
// It runs when the chain is built; column checks wait for the result.
func checkConstructor[T any](params []string) error {
	rt := reflect.TypeFor[T]()
	ctors := getMapper().Constructors(rt)
	if len(ctors) == 0 {
		return mappingErrorf(rt, "", "no constructors registered")
	}
	if len(params) == 0 {
		return nil
	}
	for _, c := range ctors {
		if sameNames(c.Params, params) {
			return nil
		}
	}
	return mappingErrorf(rt, "", "no constructor with parameters (%s)", strings.Join(params, ", "))
}
