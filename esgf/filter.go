package esgf

import (
	"fmt"
	"strings"
)

// Facet presets for the dataset conventions the filter knows by name.
var (
	CMIP6Facets = []string{
		"project", "activity_id", "source_id", "institution_id", "experiment_id",
		"member_id", "table_id", "variable_id", "grid_label", "frequency", "realm",
		"size", "version", "title",
	}

	// CORDEXFacets leaves out "product", which some CORDEX records lack.
	CORDEXFacets = []string{
		"project", "domain", "driving_model", "experiment", "time_frequency",
		"ensemble", "variable", "rcm_name", "rcm_version", "version", "size",
		"title",
	}

	CMIP5Facets = []string{
		"project", "product", "model", "experiment", "time_frequency", "cmor_table",
		"variable", "ensemble", "size", "version", "title",
	}
)

// ParseFilter builds a filter from its command-line form: "" for no
// filtering, a preset name ("cmip6", "cordex", "cmip5"), or a comma-separated
// facet list. Preset names match exactly; any other name is read as a facet.
func ParseFilter(expr string) (Filter, error) {
	switch expr {
	case "":
		return IdentityFilter{}, nil
	case "cmip6":
		return FacetFilter{name: "cmip6", facets: CMIP6Facets}, nil
	case "cordex":
		return FacetFilter{name: "cordex", facets: CORDEXFacets}, nil
	case "cmip5":
		return FacetFilter{name: "cmip5", facets: CMIP5Facets}, nil
	}

	var facets []string
	for _, f := range strings.Split(expr, ",") {
		if f = strings.TrimSpace(f); f != "" {
			facets = append(facets, f)
		}
	}
	if len(facets) == 0 {
		return nil, fmt.Errorf("%w: empty facet list %q", ErrMalformedQuery, expr)
	}
	return NewFacetFilter(facets...), nil
}

// IdentityFilter returns records unchanged.
type IdentityFilter struct{}

func (IdentityFilter) Name() string { return "identity" }

func (IdentityFilter) Apply(r Record) (Record, error) { return r, nil }

// FacetFilter keeps only the configured facets, in configured order.
type FacetFilter struct {
	name   string
	facets []string
}

// NewFacetFilter creates a projection onto facets.
func NewFacetFilter(facets ...string) FacetFilter {
	return FacetFilter{name: "facets", facets: append([]string(nil), facets...)}
}

func (f FacetFilter) Name() string { return f.name }

// Facets returns the projected facet names.
func (f FacetFilter) Facets() []string {
	return append([]string(nil), f.facets...)
}

// Apply returns a record holding exactly the configured facets. A facet
// absent from r is an error: presets list facets every record of their
// convention carries.
func (f FacetFilter) Apply(r Record) (Record, error) {
	var out Record
	for _, name := range f.facets {
		v, ok := r.Get(name)
		if !ok {
			id, _ := r.First("instance_id")
			return Record{}, fmt.Errorf("%w %q in record %q", ErrMissingFacet, name, id)
		}
		out.Set(name, v)
	}
	return out, nil
}

var (
	_ Filter = IdentityFilter{}
	_ Filter = FacetFilter{}
)
