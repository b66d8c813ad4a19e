package chain

import (
	"database/sql"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestAssignValue(t *testing.T) {
	type MyStr string
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		dst  any // pointer to the destination
		src  any
		want any
	}{
		{"int64 to int", new(int), int64(7), 7},
		{"int64 to uint8", new(uint8), int64(200), uint8(200)},
		{"float to int when integral", new(int), 3.0, 3},
		{"text to int", new(int64), []byte(" 12 "), int64(12)},
		{"int to float", new(float64), int64(2), 2.0},
		{"text to float", new(float32), "1.5", float32(1.5)},
		{"bytes to string", new(string), []byte("hi"), "hi"},
		{"int to string", new(string), int64(5), "5"},
		{"string to named string", new(MyStr), "x", MyStr("x")},
		{"int to bool", new(bool), int64(1), true},
		{"text to bool", new(bool), "false", false},
		{"string to bytes", new([]byte), "ab", []byte("ab")},
		{"time passthrough", new(time.Time), day, day},
		{"sqlite datetime text", new(time.Time), "2024-05-01 00:00:00", day},
		{"date only", new(time.Time), []byte("2024-05-01"), day},
		{"null to int", new(int), nil, 0},
		{"null to pointer", new(*int), nil, (*int)(nil)},
		{"null to slice", new([]byte), nil, []byte(nil)},
		{"scanner", new(sql.NullInt64), int64(4), sql.NullInt64{Int64: 4, Valid: true}},
		{"null scanner", new(sql.NullString), nil, sql.NullString{}},
		{"into interface", new(any), "v", "v"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			dst := reflect.ValueOf(c.dst).Elem()
			if err := assignValue(dst, c.src, NullAsZero); err != nil {
				t.Fatalf("assignValue: %v", err)
			}
			if got := dst.Interface(); !reflect.DeepEqual(got, c.want) {
				t.Fatalf("got %#v want %#v", got, c.want)
			}
		})
	}
}

func TestAssignValue_Pointer(t *testing.T) {
	var p *int32
	if err := assignValue(reflect.ValueOf(&p).Elem(), int64(9), NullAsZero); err != nil {
		t.Fatal(err)
	}
	if p == nil || *p != 9 {
		t.Fatalf("got %v", p)
	}
}

func TestAssignValue_BytesAreCopied(t *testing.T) {
	src := []byte("abc")
	var dst []byte
	if err := assignValue(reflect.ValueOf(&dst).Elem(), src, NullAsZero); err != nil {
		t.Fatal(err)
	}
	src[0] = 'z'
	if string(dst) != "abc" {
		t.Fatalf("destination shares the source buffer: %q", dst)
	}
}

func TestAssignValue_Errors(t *testing.T) {
	cases := []struct {
		name string
		dst  any
		src  any
	}{
		{"overflow int8", new(int8), int64(300)},
		{"negative to uint", new(uint), int64(-1)},
		{"huge uint to int64", new(int64), uint64(math.MaxUint64)},
		{"fraction to int", new(int), 1.5},
		{"text not a number", new(int), "x"},
		{"text not a bool", new(bool), "maybe"},
		{"text not a time", new(time.Time), "yesterday"},
		{"overflow float32", new(float32), math.MaxFloat64},
		{"unrelated", new(time.Duration), "1s"},
		{"struct from int", new(struct{ A int }), int64(1)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := assignValue(reflect.ValueOf(c.dst).Elem(), c.src, NullAsZero); err == nil {
				t.Fatalf("expected an error, got %#v", reflect.ValueOf(c.dst).Elem().Interface())
			}
		})
	}
}

func TestAssignValue_NullIsError(t *testing.T) {
	var n int
	if err := assignValue(reflect.ValueOf(&n).Elem(), nil, NullIsError); !errors.Is(err, errNullValue) {
		t.Fatalf("want errNullValue, got %v", err)
	}
	var p *int
	if err := assignValue(reflect.ValueOf(&p).Elem(), nil, NullIsError); err != nil {
		t.Fatalf("pointers hold NULL: %v", err)
	}
	var ns sql.NullInt64
	if err := assignValue(reflect.ValueOf(&ns).Elem(), nil, NullIsError); err != nil || ns.Valid {
		t.Fatalf("scanners decide for themselves: %v %+v", err, ns)
	}
}
