package chain

import (
	"errors"
	"fmt"
	"hash/fnv"
	"reflect"
	"strings"
	"sync"
)

// ChangeTracker is implemented by types that track their own modifications.
// Materialized objects are marked clean right after population.
type ChangeTracker interface {
	AcceptChanges()
}

// ErrInvalidConstructor is returned by RegisterConstructor.
var ErrInvalidConstructor = errors.New("chain: invalid constructor")

// Property is one settable field of a struct type.
type Property struct {
	Name   string       // Go field name
	Column string       // normalized column name
	Index  []int        // field index path, through inlined structs
	Type   reflect.Type // field type
}

// TypeMetadata is the cached description of a destination struct.
type TypeMetadata struct {
	Type       reflect.Type
	Properties []Property
	// Ignored lists fields tagged db:"-".
	Ignored []string

	byColumn      map[string]int
	tracksChanges bool
}

// Property looks a property up by column name.
func (m *TypeMetadata) Property(column string) (Property, bool) {
	i, ok := m.byColumn[normalizeColAscii(column)]
	if !ok {
		return Property{}, false
	}
	return m.Properties[i], true
}

// ColumnNames lists the mapped column names in field order.
func (m *TypeMetadata) ColumnNames() []string {
	out := make([]string, len(m.Properties))
	for i, p := range m.Properties {
		out[i] = p.Column
	}
	return out
}

// TracksChanges reports whether *T implements ChangeTracker.
func (m *TypeMetadata) TracksChanges() bool { return m.tracksChanges }

// Constructor is a registered factory function for a type.
type Constructor struct {
	Params     []string
	fn         reflect.Value
	in         []reflect.Type
	returnsErr bool
}

// Mapper owns the metadata caches. Use the package-level lazy getter
// (getMapper) or create your own in tests.
type Mapper struct {
	types sync.Map // reflect.Type -> *TypeMetadata
	plans sync.Map // planKey -> *plan

	mu    sync.RWMutex
	ctors map[reflect.Type][]*Constructor
}

// NewMapper returns a mapper with no registered constructors.
func NewMapper() *Mapper { return &Mapper{ctors: make(map[reflect.Type][]*Constructor)} }

// --- package-level lazy global mapper ---

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

// MetadataFor returns the cached metadata for the struct type T (or *T).
func MetadataFor[T any]() (*TypeMetadata, error) {
	return getMapper().Metadata(reflect.TypeFor[T]())
}

// RegisterConstructor records fn as a way to build T from columns named
// params, in order. fn must be a func taking len(params) arguments and
// returning T or (T, error).
func RegisterConstructor[T any](fn any, params ...string) error {
	return getMapper().RegisterConstructor(reflect.TypeFor[T](), fn, params...)
}

// Metadata builds or returns the description of a struct type.
func (m *Mapper) Metadata(rt reflect.Type) (*TypeMetadata, error) {
	if rt == nil {
		return nil, mappingErrorf(nil, "", "nil type")
	}
	base := derefPtr(rt)
	if base.Kind() != reflect.Struct {
		return nil, mappingErrorf(rt, "", "not a struct")
	}
	if v, ok := m.types.Load(base); ok {
		return v.(*TypeMetadata), nil
	}
	md := buildTypeMetadata(base)
	v, _ := m.types.LoadOrStore(base, md)
	return v.(*TypeMetadata), nil
}

// RegisterConstructor is the Mapper form of the package-level function.
func (m *Mapper) RegisterConstructor(rt reflect.Type, fn any, params ...string) error {
	fv := reflect.ValueOf(fn)
	if !fv.IsValid() || fv.Kind() != reflect.Func || fv.IsNil() {
		return fmt.Errorf("%w: %T is not a function", ErrInvalidConstructor, fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return fmt.Errorf("%w: variadic functions are not supported", ErrInvalidConstructor)
	}
	if ft.NumIn() != len(params) {
		return fmt.Errorf("%w: %s takes %d arguments, %d names given", ErrInvalidConstructor, ft, ft.NumIn(), len(params))
	}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return fmt.Errorf("%w: %s must return %s or (%s, error)", ErrInvalidConstructor, ft, rt, rt)
	}
	if !ft.Out(0).AssignableTo(rt) {
		return fmt.Errorf("%w: %s does not return %s", ErrInvalidConstructor, ft, rt)
	}

	seen := make(map[string]struct{}, len(params))
	c := &Constructor{fn: fv, returnsErr: ft.NumOut() == 2}
	for i, p := range params {
		key := normalizeColAscii(p)
		if key == "" {
			return fmt.Errorf("%w: parameter %d has no name", ErrInvalidConstructor, i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: parameter %q repeated", ErrInvalidConstructor, p)
		}
		seen[key] = struct{}{}
		c.Params = append(c.Params, p)
		c.in = append(c.in, ft.In(i))
	}

	m.mu.Lock()
	m.ctors[rt] = append(m.ctors[rt], c)
	m.mu.Unlock()
	return nil
}

// Constructors returns the constructors registered for rt.
func (m *Mapper) Constructors(rt reflect.Type) []*Constructor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Constructor(nil), m.ctors[rt]...)
}

// ---------------- Planning & caches ----------------

type planKey struct {
	rt    reflect.Type
	hash  uint64 // FNV-1a of normalized columns
	ncols int
}

// plan maps each property of a type to a column ordinal for one column set.
type plan struct {
	meta *TypeMetadata
	cols []int // per property; -1 when the result has no such column
}

func columnHash(ci *columnIndex) uint64 {
	h := fnv.New64a()
	for _, n := range ci.names {
		_, _ = h.Write([]byte(normalizeColAscii(n)))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func (m *Mapper) getPlan(rt reflect.Type, ci *columnIndex) (*plan, error) {
	md, err := m.Metadata(rt)
	if err != nil {
		return nil, err
	}
	key := planKey{rt: md.Type, hash: columnHash(ci), ncols: len(ci.names)}
	if v, ok := m.plans.Load(key); ok {
		return v.(*plan), nil
	}
	p := &plan{meta: md, cols: make([]int, len(md.Properties))}
	for i, prop := range md.Properties {
		if ord, ok := ci.lookup(prop.Column); ok {
			p.cols[i] = ord
		} else {
			p.cols[i] = -1
		}
	}
	m.plans.Store(key, p)
	return p, nil
}

// checkStrict fails on the first property the result cannot fill.
func (p *plan) checkStrict() error {
	for i, ord := range p.cols {
		if ord < 0 {
			prop := p.meta.Properties[i]
			return mappingErrorf(p.meta.Type, prop.Name, "no column %q in result (strict mode)", prop.Column)
		}
	}
	return nil
}

func (p *plan) fill(dst reflect.Value, row *Row, nulls NullHandling) error {
	for i, prop := range p.meta.Properties {
		ord := p.cols[i]
		if ord < 0 {
			continue
		}
		fv := fieldByPathAlloc(dst, prop.Index)
		if err := assignValue(fv, row.values[ord], nulls); err != nil {
			return mappingErrorf(p.meta.Type, prop.Name, "column %q: %v", prop.Column, err)
		}
	}
	return nil
}

// ---------------- Struct indexing & tags ----------------

func buildTypeMetadata(rt reflect.Type) *TypeMetadata {
	md := &TypeMetadata{
		Type:          rt,
		byColumn:      make(map[string]int),
		tracksChanges: reflect.PointerTo(rt).Implements(changeTrackerType),
	}

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous { // unexported, non-anonymous
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				md.Ignored = append(md.Ignored, sf.Name)
				continue
			}
			path := append(append([]int(nil), base...), i)

			if inline || (sf.Anonymous && (forceInline || tag == "")) {
				if isStruct(sf.Type) {
					walk(sf.Type, path, inline)
					continue
				}
			}
			if sf.PkgPath != "" { // unexported embedded non-struct
				continue
			}
			if name == "" {
				name = sf.Name
			}
			col := toLowerAscii(name)
			prop := Property{Name: sf.Name, Column: col, Index: path, Type: sf.Type}
			if j, dup := md.byColumn[col]; dup {
				// shallower field wins, first one on a tie
				if len(path) < len(md.Properties[j].Index) {
					md.Properties[j] = prop
				}
				continue
			}
			md.byColumn[col] = len(md.Properties)
			md.Properties = append(md.Properties, prop)
		}
	}
	walk(rt, nil, false)
	return md
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	for _, part := range strings.Split(tag, ",") {
		switch {
		case part == "inline":
			inline = true
		case part != "" && name == "":
			name = part
		}
	}
	return name, inline, false
}

func isStruct(t reflect.Type) bool { return derefPtr(t).Kind() == reflect.Struct && t != timeType }

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// fieldByPathAlloc walks fpath, allocating nil intermediate pointers so the
// final field is addressable. The final field itself is left untouched.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for n, i := range fpath {
		if n > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

// ---------------- Column normalization (ASCII fast-path) ----------------

func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			return strings.ToLower(s)
		}
	}
	return s
}
