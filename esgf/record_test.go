package esgf

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func TestRecord_UnmarshalKeepsOrder(t *testing.T) {
	var r Record
	data := `{"title":"a.nc","size":12345678901234,"project":["CMIP6"],"replica":false,"extra":null}`
	if err := r.UnmarshalJSON([]byte(data)); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	want := []string{"title", "size", "project", "replica", "extra"}
	if got := r.Keys(); !slices.Equal(got, want) {
		t.Errorf("Keys = %v, want %v", got, want)
	}
	size, _ := r.Get("size")
	if n, ok := size.(json.Number); !ok || n.String() != "12345678901234" {
		t.Errorf("size = %#v, want json.Number 12345678901234", size)
	}
}

func TestRecord_MarshalRoundTrip(t *testing.T) {
	data := `{"z":1,"a":["x","y"],"m":{"k":"v"},"u":"a&b"}`
	var r Record
	if err := r.UnmarshalJSON([]byte(data)); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	out, err := r.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	if string(out) != data {
		t.Errorf("MarshalJSON = %s, want %s", out, data)
	}
}

func TestRecord_NotAnObject(t *testing.T) {
	var r Record
	if err := r.UnmarshalJSON([]byte(`[1,2]`)); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("error = %v, want ErrMalformedRecord", err)
	}
}

func TestRecord_SetReplacesInPlace(t *testing.T) {
	r := NewRecord("a", 1, "b", 2)
	r.Set("a", 3)
	if got := r.Keys(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("Keys = %v, want [a b]", got)
	}
	if v, _ := r.First("a"); v != "3" {
		t.Errorf("a = %q, want 3", v)
	}
}

func TestRecord_StringsAndFirst(t *testing.T) {
	r := NewRecord(
		"list", []any{"x", json.Number("2")},
		"scalar", "s",
		"empty", []any{},
	)

	if got, _ := r.Strings("list"); !slices.Equal(got, []string{"x", "2"}) {
		t.Errorf("Strings(list) = %v", got)
	}
	if got, _ := r.Strings("scalar"); !slices.Equal(got, []string{"s"}) {
		t.Errorf("Strings(scalar) = %v", got)
	}
	if _, ok := r.First("empty"); ok {
		t.Error("First(empty) reported a value")
	}
	if _, ok := r.Strings("missing"); ok {
		t.Error("Strings(missing) reported a value")
	}
	if v, _ := r.First("list"); v != "x" {
		t.Errorf("First(list) = %q, want x", v)
	}
}

func TestScalarString(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{json.Number("1.50"), "1.50"},
		{true, "true"},
		{[]any{"a", json.Number("1")}, "a,1"},
		{map[string]any{"k": "v"}, `{"k":"v"}`},
	}
	for _, tt := range tests {
		if got := scalarString(tt.in); got != tt.want {
			t.Errorf("scalarString(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
