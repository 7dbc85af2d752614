package esgf

import (
	"errors"
	"strings"
	"testing"
)

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("project=CMIP6  variable_id=tas,pr\nexperiment_id=historical")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	want := []Facet{
		{"project", "CMIP6"},
		{"variable_id", "tas,pr"},
		{"experiment_id", "historical"},
	}
	got := q.Facets()
	if len(got) != len(want) {
		t.Fatalf("facets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("facet %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseQuery_SplitsOnFirstEquals(t *testing.T) {
	q, err := ParseQuery("query=a=b")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if v, _ := q.Get("query"); v != "a=b" {
		t.Errorf("query = %q, want %q", v, "a=b")
	}
}

func TestParseQuery_Malformed(t *testing.T) {
	for _, s := range []string{"project", "=CMIP6", "project=CMIP6 tas"} {
		if _, err := ParseQuery(s); !errors.Is(err, ErrMalformedQuery) {
			t.Errorf("ParseQuery(%q) error = %v, want ErrMalformedQuery", s, err)
		}
	}
}

func TestParseQuery_Empty(t *testing.T) {
	q, err := ParseQuery("   ")
	if err != nil {
		t.Fatalf("ParseQuery failed: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestQuery_WithDoesNotModifyReceiver(t *testing.T) {
	base := NewQuery(Facet{"project", "CMIP6"})
	local := base.With("distrib", "false")

	if _, ok := base.Get("distrib"); ok {
		t.Error("With modified the receiver")
	}
	if v, _ := local.Get("distrib"); v != "false" {
		t.Errorf("distrib = %q, want %q", v, "false")
	}

	replaced := local.With("project", "CORDEX")
	if v, _ := local.Get("project"); v != "CMIP6" {
		t.Errorf("receiver project = %q, want CMIP6", v)
	}
	if got := replaced.String(); got != "project=CORDEX distrib=false" {
		t.Errorf("String = %q, want replacement in place", got)
	}
}

func TestQuery_Encode(t *testing.T) {
	q := NewQuery(
		Facet{"project", "CMIP6"},
		Facet{"variable_id", "tas,pr"},
		Facet{"limit", "10"},
	)
	got := q.Encode(Facet{"limit", "0"}, Facet{"format", "application/solr+json"})
	want := "project=CMIP6&variable_id=tas%2Cpr&limit=0&format=application%2Fsolr%2Bjson"
	if got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
	if strings.Contains(q.Encode(), "format") {
		t.Error("Encode extras leaked into the query")
	}
}
