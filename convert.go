package chain

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	scannerType       = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	changeTrackerType = reflect.TypeOf((*ChangeTracker)(nil)).Elem()
	errorType         = reflect.TypeOf((*error)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
)

var errNullValue = errors.New("NULL cannot be stored in a non-nullable destination")

// text layouts accepted when a time arrives as a string (SQLite stores
// datetimes as text).
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// assignValue stores a driver value into dst, converting where it is safe.
func assignValue(dst reflect.Value, src any, nulls NullHandling) error {
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}

	if src == nil {
		switch dst.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
			dst.SetZero()
			return nil
		}
		if nulls == NullIsError {
			return errNullValue
		}
		dst.SetZero()
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		v := reflect.New(dst.Type().Elem())
		if err := assignValue(v.Elem(), src, nulls); err != nil {
			return err
		}
		dst.Set(v)
		return nil
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		if b, ok := src.([]byte); ok {
			// keep the snapshot's bytes private to the table
			dst.Set(reflect.ValueOf(bytes.Clone(b)).Convert(dst.Type()))
			return nil
		}
		dst.Set(sv)
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		switch s := src.(type) {
		case []byte:
			dst.SetString(string(s))
			return nil
		case time.Time:
			dst.SetString(s.Format(time.RFC3339Nano))
			return nil
		}
		switch sv.Kind() {
		case reflect.String:
			dst.SetString(sv.String())
			return nil
		case reflect.Bool,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			dst.SetString(fmt.Sprint(src))
			return nil
		}

	case reflect.Bool:
		switch sv.Kind() {
		case reflect.Bool:
			dst.SetBool(sv.Bool())
			return nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			dst.SetBool(sv.Int() != 0)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			dst.SetBool(sv.Uint() != 0)
			return nil
		}
		if s, ok := asText(src); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return err
			}
			dst.SetBool(b)
			return nil
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt64(sv)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := toUint64(sv)
		if err != nil {
			return err
		}
		if dst.OverflowUint(u) {
			return fmt.Errorf("value %d overflows %s", u, dst.Type())
		}
		dst.SetUint(u)
		return nil

	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(sv)
		if err != nil {
			return err
		}
		if dst.OverflowFloat(f) {
			return fmt.Errorf("value %v overflows %s", f, dst.Type())
		}
		dst.SetFloat(f)
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			if s, ok := src.(string); ok {
				dst.SetBytes([]byte(s))
				return nil
			}
		}

	case reflect.Struct:
		if dst.Type() == timeType {
			if s, ok := asText(src); ok {
				t, err := parseTime(s)
				if err != nil {
					return err
				}
				dst.Set(reflect.ValueOf(t))
				return nil
			}
		}
	}

	if sv.Type().ConvertibleTo(dst.Type()) && sv.Kind() == dst.Kind() {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
}

func asText(src any) (string, bool) {
	switch s := src.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func toInt64(sv reflect.Value) (int64, error) {
	switch sv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return sv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := sv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := sv.Float()
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("value %v is not an integer", f)
		}
		return int64(f), nil
	case reflect.Bool:
		if sv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	if s, ok := asText(sv.Interface()); ok {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %s to an integer", sv.Type())
}

func toUint64(sv reflect.Value) (uint64, error) {
	switch sv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return sv.Uint(), nil
	case reflect.String, reflect.Slice:
		if s, ok := asText(sv.Interface()); ok {
			return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		}
	}
	n, err := toInt64(sv)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("value %d is negative", n)
	}
	return uint64(n), nil
}

func toFloat64(sv reflect.Value) (float64, error) {
	switch sv.Kind() {
	case reflect.Float32, reflect.Float64:
		return sv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(sv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(sv.Uint()), nil
	}
	if s, ok := asText(sv.Interface()); ok {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	}
	return 0, fmt.Errorf("cannot convert %s to a float", sv.Type())
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a time", s)
}
