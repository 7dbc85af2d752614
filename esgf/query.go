package esgf

import (
	"fmt"
	"net/url"
	"strings"
)

// Facet is one facet constraint of a query. Value may hold several
// comma-joined alternatives; it is sent to the service verbatim.
type Facet struct {
	Name  string
	Value string
}

// Query is an ordered set of facet constraints. Facet order is preserved in
// the request URL.
//
// The zero value is an empty query. Methods that modify a query return a new
// value and leave the receiver unchanged.
type Query struct {
	facets []Facet
}

// NewQuery builds a query from facets. A repeated name replaces the earlier
// value in its original position.
func NewQuery(facets ...Facet) Query {
	var q Query
	for _, f := range facets {
		q = q.With(f.Name, f.Value)
	}
	return q
}

// With returns a copy of q with name set to value.
func (q Query) With(name, value string) Query {
	out := Query{facets: make([]Facet, len(q.facets), len(q.facets)+1)}
	copy(out.facets, q.facets)
	for i := range out.facets {
		if out.facets[i].Name == name {
			out.facets[i].Value = value
			return out
		}
	}
	out.facets = append(out.facets, Facet{Name: name, Value: value})
	return out
}

// Get returns the value of a facet.
func (q Query) Get(name string) (string, bool) {
	for _, f := range q.facets {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Facets returns a copy of the facets in insertion order.
func (q Query) Facets() []Facet {
	out := make([]Facet, len(q.facets))
	copy(out, q.facets)
	return out
}

// Len returns the number of facets.
func (q Query) Len() int {
	return len(q.facets)
}

// Encode renders q followed by extra as a URL query string. Pairs keep their
// order; a name present in both q and extra is taken from extra.
func (q Query) Encode(extra ...Facet) string {
	merged := q
	for _, f := range extra {
		merged = merged.With(f.Name, f.Value)
	}
	var b strings.Builder
	for i, f := range merged.facets {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value))
	}
	return b.String()
}

func (q Query) String() string {
	parts := make([]string, len(q.facets))
	for i, f := range q.facets {
		parts[i] = f.Name + "=" + f.Value
	}
	return strings.Join(parts, " ")
}

// ParseQuery parses an inline query of whitespace-separated key=value
// tokens, for example "project=CMIP6 variable_id=tas,pr". Newlines count as
// whitespace.
func ParseQuery(s string) (Query, error) {
	var q Query
	for _, token := range strings.Fields(s) {
		var err error
		q, err = addToken(q, token)
		if err != nil {
			return Query{}, err
		}
	}
	return q, nil
}

func addToken(q Query, token string) (Query, error) {
	name, value, ok := strings.Cut(token, "=")
	if !ok || name == "" {
		return Query{}, fmt.Errorf("%w: %q is not key=value", ErrMalformedQuery, token)
	}
	return q.With(name, value), nil
}
