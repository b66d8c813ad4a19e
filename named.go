package chain

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder selects the positional parameter style of an engine.
//
//   - PlaceholderQuestion   "?"            (MySQL, SQLite, DuckDB)
//   - PlaceholderDollar     "$1, $2, ..."  (PostgreSQL)
//   - PlaceholderAtP        "@p1, @p2..."  (SQL Server)
//   - PlaceholderColonNum   ":1, :2, ..."  (Oracle)
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
)

// Format renders the n-th (1-based) placeholder.
func (p Placeholder) Format(n int) string {
	switch p {
	case PlaceholderDollar:
		return "$" + strconv.Itoa(n)
	case PlaceholderAtP:
		return "@p" + strconv.Itoa(n)
	case PlaceholderColonNum:
		return ":" + strconv.Itoa(n)
	default:
		return "?"
	}
}

// PlaceholderFor picks a Placeholder from a driver name.
//
//	ph := chain.PlaceholderFor("postgres")  // PlaceholderDollar
//	ph := chain.PlaceholderFor("sqlserver") // PlaceholderAtP
//	ph := chain.PlaceholderFor("sqlite")    // PlaceholderQuestion
func PlaceholderFor(driverName string) Placeholder {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "lib/pq", "pg":
		return PlaceholderDollar
	case "sqlserver", "mssql":
		return PlaceholderAtP
	case "godror", "oracle", "goracle":
		return PlaceholderColonNum
	default:
		return PlaceholderQuestion
	}
}

var (
	// ErrNilParams is returned when named binding gets a nil struct pointer.
	ErrNilParams = errors.New("chain: named bind: nil params")

	// ErrUnsupportedArg is returned when the named-binding argument is not a
	// struct or a map with string keys.
	ErrUnsupportedArg = errors.New("chain: named bind: params must be struct or map[string]any")
)

// Rebind resolves :named parameters and rewrites "?" placeholders to ph.
//
// With exactly one struct or map[string]any argument the query uses :name
// binding. Slices and arrays expand to a list ([]byte stays scalar); an empty
// one becomes NULL so that IN (NULL) matches nothing:
//
//	q, args, err := chain.Rebind(
//		`SELECT * FROM users WHERE status=:status AND id IN (:ids)`,
//		chain.PlaceholderDollar,
//		map[string]any{"status": "active", "ids": []int{1, 2, 3}},
//	)
//	// q    => SELECT * FROM users WHERE status=$1 AND id IN ($2,$3,$4)
//	// args => ["active", 1, 2, 3]
//
// Any other argument list is positional and only the placeholders change.
// Quoted strings and identifiers, comments, PostgreSQL casts and
// $tag$...$tag$ bodies are left alone.
func Rebind(query string, ph Placeholder, params ...any) (string, []any, error) {
	if len(params) == 1 && looksBindable(params[0]) {
		bound, args, err := bindNamedParams(query, params[0])
		if err != nil {
			return "", nil, err
		}
		out, err := rewritePlaceholders(bound, ph)
		return out, args, err
	}
	out, err := rewritePlaceholders(query, ph)
	return out, params, err
}

// --- lexer ---

type segmentKind uint8

const (
	segText        segmentKind = iota // plain SQL
	segOpaque                         // quoted text or comment, copied as is
	segPlaceholder                    // a bare "?"
	segNamed                          // ":name"
)

type segment struct {
	kind segmentKind
	text string // source text of the segment
	name string // parameter name for segNamed
}

// scanSQL splits query into segments and hands them to fn in order.
func scanSQL(query string, fn func(segment) error) error {
	flushFrom := 0
	flush := func(to int) error {
		if to > flushFrom {
			if err := fn(segment{kind: segText, text: query[flushFrom:to]}); err != nil {
				return err
			}
		}
		return nil
	}
	emit := func(start, end int, seg segment) error {
		if err := flush(start); err != nil {
			return err
		}
		seg.text = query[start:end]
		flushFrom = end
		return fn(seg)
	}

	i := 0
	for i < len(query) {
		c := query[i]
		var (
			end  int
			seg  segment
			err  error
			took bool
		)
		switch {
		case c == '\'' || c == '"' || c == '`':
			end, err = skipQuoted(query, i+1, c)
			seg, took = segment{kind: segOpaque}, true
		case strings.HasPrefix(query[i:], "--"):
			end = skipLineComment(query, i+2)
			seg, took = segment{kind: segOpaque}, true
		case strings.HasPrefix(query[i:], "/*"):
			end, err = skipBlockComment(query, i+2)
			seg, took = segment{kind: segOpaque}, true
		case c == '$':
			var ok bool
			if end, ok, err = skipDollarQuoted(query, i); ok || err != nil {
				seg, took = segment{kind: segOpaque}, true
			}
		case strings.HasPrefix(query[i:], "::"):
			i += 2 // PostgreSQL cast
			continue
		case c == ':':
			if name, e := parseIdent(query, i+1); name != "" {
				end, seg, took = e, segment{kind: segNamed, name: name}, true
			}
		case c == '?':
			end, seg, took = i+1, segment{kind: segPlaceholder}, true
		}
		if err != nil {
			return err
		}
		if took {
			if err := emit(i, end, seg); err != nil {
				return err
			}
			i = end
			continue
		}
		_, w := utf8.DecodeRuneInString(query[i:])
		i += w
	}
	return flush(len(query))
}

func skipQuoted(s string, i int, q byte) (int, error) {
	for i < len(s) {
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	switch q {
	case '\'':
		return 0, fmt.Errorf("chain: unterminated single-quoted string")
	case '"':
		return 0, fmt.Errorf("chain: unterminated double-quoted identifier")
	default:
		return 0, fmt.Errorf("chain: unterminated backtick-quoted identifier")
	}
}

func skipLineComment(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlockComment(s string, i int) (int, error) {
	if j := strings.Index(s[i:], "*/"); j >= 0 {
		return i + j + 2, nil
	}
	return 0, fmt.Errorf("chain: unterminated block comment")
}

// skipDollarQuoted handles $$...$$ and $tag$...$tag$. ok is false when the
// dollar sign does not open such a body (e.g. "$1").
func skipDollarQuoted(s string, i int) (end int, ok bool, err error) {
	j := i + 1
	for j < len(s) && isTagChar(rune(s[j])) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return 0, false, nil
	}
	if j > i+1 && s[i+1] >= '0' && s[i+1] <= '9' {
		return 0, false, nil
	}
	tag := s[i : j+1]
	k := strings.Index(s[j+1:], tag)
	if k < 0 {
		return 0, true, fmt.Errorf("chain: unterminated dollar-quoted string")
	}
	return j + 1 + k + len(tag), true, nil
}

func isTagChar(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !isTagChar(r) {
			break
		}
		i += w
	}
	return s[start:i], i
}

func rewritePlaceholders(query string, ph Placeholder) (string, error) {
	if ph == PlaceholderQuestion {
		return query, nil
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	err := scanSQL(query, func(s segment) error {
		if s.kind == segPlaceholder {
			n++
			b.WriteString(ph.Format(n))
			return nil
		}
		b.WriteString(s.text)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// leadingKeyword returns the first word of query outside comments, upper
// cased.
func leadingKeyword(query string) string {
	var kw string
	done := errors.New("done")
	_ = scanSQL(query, func(s segment) error {
		if s.kind != segText {
			if s.kind == segOpaque && (strings.HasPrefix(s.text, "--") || strings.HasPrefix(s.text, "/*")) {
				return nil
			}
			return done
		}
		t := strings.TrimLeftFunc(s.text, unicode.IsSpace)
		t = strings.TrimLeft(t, "(")
		if t == "" {
			return nil
		}
		end := strings.IndexFunc(t, func(r rune) bool { return !isTagChar(r) })
		if end < 0 {
			end = len(t)
		}
		kw = strings.ToUpper(t[:end])
		return done
	})
	return kw
}

// containsKeyword reports whether any word of query outside quotes and
// comments is one of words (upper case).
func containsKeyword(query string, words ...string) bool {
	found := false
	done := errors.New("done")
	_ = scanSQL(query, func(s segment) error {
		if s.kind != segText {
			return nil
		}
		for _, w := range strings.FieldsFunc(s.text, func(r rune) bool { return !isTagChar(r) }) {
			if slices.Contains(words, strings.ToUpper(w)) {
				found = true
				return done
			}
		}
		return nil
	})
	return found
}

// --- named binding ---

func looksBindable(v any) bool {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map {
		return rv.Type().Key().Kind() == reflect.String
	}
	return rv.Kind() == reflect.Struct && rv.Type() != timeType
}

func bindNamedParams(query string, params any) (string, []any, error) {
	if params == nil {
		return "", nil, ErrNilParams
	}
	var lut map[string]any
	var b strings.Builder
	b.Grow(len(query))
	var args []any

	err := scanSQL(query, func(s segment) error {
		if s.kind != segNamed {
			b.WriteString(s.text)
			return nil
		}
		if lut == nil {
			var err error
			if lut, err = paramLookup(params); err != nil {
				return err
			}
		}
		val, ok := lut[strings.ToLower(s.name)]
		if !ok {
			return fmt.Errorf("chain: named bind: missing value for :%s", s.name)
		}
		rv := reflect.ValueOf(val)
		if !isSliceOrArray(rv) {
			b.WriteByte('?')
			args = append(args, val)
			return nil
		}
		if rv.Len() == 0 {
			b.WriteString("NULL")
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('?')
			args = append(args, rv.Index(i).Interface())
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return b.String(), args, nil
}

// paramLookup flattens a struct or string-keyed map into lower-cased names.
func paramLookup(params any) (map[string]any, error) {
	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		m := make(map[string]any, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			m[strings.ToLower(it.Key().String())] = it.Value().Interface()
		}
		return m, nil
	case reflect.Struct:
		m := make(map[string]any)
		if err := structParams(m, rv); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, ErrUnsupportedArg
	}
}

// structParams reuses the mapping metadata so that a struct binds under the
// same names it is materialized from. Metadata columns are unique.
func structParams(dst map[string]any, v reflect.Value) error {
	md, err := getMapper().Metadata(v.Type())
	if err != nil {
		return err
	}
	for _, p := range md.Properties {
		fv, ok := fieldByPathRead(v, p.Index)
		if !ok {
			continue // behind a nil embedded pointer
		}
		dst[p.Column] = fv.Interface()
	}
	return nil
}

// fieldByPathRead walks fpath without allocating; ok is false when a nil
// pointer is in the way.
func fieldByPathRead(root reflect.Value, fpath []int) (reflect.Value, bool) {
	v := root
	for n, i := range fpath {
		if n > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, true
}

func isSliceOrArray(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	default:
		return false
	}
}
