package chain

import (
	"iter"
	"reflect"
	"strings"
)

// MapOptions controls object population.
type MapOptions struct {
	Strict bool
	Nulls  NullHandling
}

// MapOption adjusts MapOptions.
type MapOption func(*MapOptions)

// Strict requires every exported, non-ignored field to have a column.
func Strict(strict bool) MapOption { return func(o *MapOptions) { o.Strict = strict } }

// Nulls sets how NULL is stored into value-typed destinations.
func Nulls(h NullHandling) MapOption { return func(o *MapOptions) { o.Nulls = h } }

func mapOptionsFrom(s Settings, opts []MapOption) MapOptions {
	o := MapOptions{Strict: s.StrictMode, Nulls: s.NullHandling}
	for _, f := range opts {
		if f != nil {
			f(&o)
		}
	}
	return o
}

// Echo pairs a constructed value with the row it was built from.
type Echo[T any] struct {
	Row   *Row
	Value T
}

// Objects converts every row of t into a T by field population. T is a
// struct, a pointer to a struct or, for single-column tables, a scalar.
// The sequence is lazy and yields rows in table order; a mapping failure is
// yielded once and ends the sequence.
func Objects[T any](t *Table, opts ...MapOption) iter.Seq2[T, error] {
	o := MapOptions{}
	for _, f := range opts {
		if f != nil {
			f(&o)
		}
	}
	return objects[T](getMapper(), t, o)
}

func objects[T any](m *Mapper, t *Table, o MapOptions) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		conv, err := newPopulator[T](m, t.cols, o)
		if err != nil {
			yield(zero, err)
			return
		}
		for _, row := range t.rows {
			v, err := conv(row)
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// Populate fills one T from row.
func Populate[T any](row *Row, opts ...MapOption) (T, error) {
	o := MapOptions{}
	for _, f := range opts {
		if f != nil {
			f(&o)
		}
	}
	conv, err := newPopulator[T](getMapper(), row.cols, o)
	if err != nil {
		var zero T
		return zero, err
	}
	return conv(row)
}

// newPopulator resolves the plan for T against a column set once and returns
// the per-row conversion.
func newPopulator[T any](m *Mapper, ci *columnIndex, o MapOptions) (func(*Row) (T, error), error) {
	rt := reflect.TypeFor[T]()
	base := derefPtr(rt)

	if !isStruct(rt) {
		if len(ci.names) != 1 {
			return nil, mappingErrorf(rt, "", "cannot map %d columns into a scalar; use a struct", len(ci.names))
		}
		return func(row *Row) (T, error) {
			var v T
			if err := assignValue(reflect.ValueOf(&v).Elem(), row.values[0], o.Nulls); err != nil {
				return v, mappingErrorf(rt, ci.names[0], "%v", err)
			}
			return v, nil
		}, nil
	}
	if rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Pointer {
		return nil, mappingErrorf(rt, "", "multi-level pointers are not supported")
	}

	p, err := m.getPlan(base, ci)
	if err != nil {
		return nil, err
	}
	if o.Strict {
		if err := p.checkStrict(); err != nil {
			return nil, err
		}
	}

	return func(row *Row) (T, error) {
		var zero T
		ptr := reflect.New(base)
		if err := p.fill(ptr.Elem(), row, o.Nulls); err != nil {
			return zero, err
		}
		if p.meta.tracksChanges {
			ptr.Interface().(ChangeTracker).AcceptChanges()
		}
		if rt.Kind() == reflect.Pointer {
			return ptr.Interface().(T), nil
		}
		return ptr.Elem().Interface().(T), nil
	}, nil
}

// Construct converts every row of t into a T through a registered
// constructor. params selects the constructor by parameter names; when it is
// empty the constructor with the most parameters that the columns can
// satisfy is used.
func Construct[T any](t *Table, params []string, opts ...MapOption) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for e, err := range ConstructWithRows[T](t, params, opts...) {
			if !yield(e.Value, err) || err != nil {
				return
			}
		}
	}
}

// ConstructWithRows is Construct that also returns the source row of each
// value, in table order.
func ConstructWithRows[T any](t *Table, params []string, opts ...MapOption) iter.Seq2[Echo[T], error] {
	o := MapOptions{}
	for _, f := range opts {
		if f != nil {
			f(&o)
		}
	}
	return constructWithRows[T](getMapper(), t, params, o)
}

func constructWithRows[T any](m *Mapper, t *Table, params []string, o MapOptions) iter.Seq2[Echo[T], error] {
	return func(yield func(Echo[T], error) bool) {
		rt := reflect.TypeFor[T]()
		ctor, ords, err := m.resolveConstructor(rt, t.cols, params)
		if err != nil {
			yield(Echo[T]{}, err)
			return
		}
		for _, row := range t.rows {
			v, err := invokeConstructor[T](rt, ctor, ords, row, o.Nulls)
			if !yield(Echo[T]{Row: row, Value: v}, err) || err != nil {
				return
			}
		}
	}
}

func (m *Mapper) resolveConstructor(rt reflect.Type, ci *columnIndex, params []string) (*Constructor, []int, error) {
	ctors := m.Constructors(rt)
	if len(ctors) == 0 {
		return nil, nil, mappingErrorf(rt, "", "no constructors registered")
	}

	if len(params) > 0 {
		for _, c := range ctors {
			if sameNames(c.Params, params) {
				ords, missing := bindParams(c, ci)
				if missing != "" {
					return nil, nil, mappingErrorf(rt, missing, "no column for constructor parameter %q", missing)
				}
				return c, ords, nil
			}
		}
		return nil, nil, mappingErrorf(rt, "", "no constructor with parameters (%s)", strings.Join(params, ", "))
	}

	var (
		best     *Constructor
		bestOrds []int
		missing  string
	)
	for _, c := range ctors {
		ords, miss := bindParams(c, ci)
		if miss != "" {
			if missing == "" {
				missing = miss
			}
			continue
		}
		if best == nil || len(c.Params) > len(best.Params) {
			best, bestOrds = c, ords
		}
	}
	if best == nil {
		return nil, nil, mappingErrorf(rt, missing, "no column for constructor parameter %q", missing)
	}
	return best, bestOrds, nil
}

func bindParams(c *Constructor, ci *columnIndex) ([]int, string) {
	ords := make([]int, len(c.Params))
	for i, p := range c.Params {
		ord, ok := ci.lookup(p)
		if !ok {
			return nil, p
		}
		ords[i] = ord
	}
	return ords, ""
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if normalizeColAscii(a[i]) != normalizeColAscii(b[i]) {
			return false
		}
	}
	return true
}

func invokeConstructor[T any](rt reflect.Type, c *Constructor, ords []int, row *Row, nulls NullHandling) (T, error) {
	var zero T
	args := make([]reflect.Value, len(c.in))
	for i, in := range c.in {
		arg := reflect.New(in).Elem()
		if err := assignValue(arg, row.values[ords[i]], nulls); err != nil {
			return zero, mappingErrorf(rt, c.Params[i], "parameter %q: %v", c.Params[i], err)
		}
		args[i] = arg
	}
	out := c.fn.Call(args)
	if c.returnsErr && !out[1].IsNil() {
		return zero, out[1].Interface().(error)
	}
	v := out[0].Interface().(T)
	if ct, ok := any(v).(ChangeTracker); ok {
		ct.AcceptChanges()
	}
	return v, nil
}
