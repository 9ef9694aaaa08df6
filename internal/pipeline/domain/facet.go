package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Facet is an attribute of a candidate's experience history that
// populations can be filtered on.
type Facet string

const (
	FacetCompany        Facet = "company"
	FacetPosition       Facet = "position"
	FacetCountry        Facet = "country"
	FacetIndustry       Facet = "industry"
	FacetCorporateGroup Facet = "corporate_group"
)

// AllFacets lists every facet in a stable order.
var AllFacets = []Facet{FacetCompany, FacetPosition, FacetCountry, FacetIndustry, FacetCorporateGroup}

// ParseFacet accepts the wire names of a facet.
func ParseFacet(raw string) (Facet, error) {
	f := Facet(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(AllFacets, f) {
		return "", fmt.Errorf("unknown facet %q", raw)
	}
	return f, nil
}

// FacetMap is a multi-valued facet selection. Values within a facet are
// OR-ed; facets are AND-ed. A facet with no values is ignored.
type FacetMap map[Facet][]string

// Active returns the facets carrying at least one non-blank value, in
// AllFacets order, with their cleaned values.
func (m FacetMap) Active() []FacetValues {
	var out []FacetValues
	for _, f := range AllFacets {
		values := cleanValues(m[f])
		if len(values) > 0 {
			out = append(out, FacetValues{Facet: f, Values: values})
		}
	}
	return out
}

// Without returns a copy of m with facet removed.
func (m FacetMap) Without(facet Facet) FacetMap {
	out := make(FacetMap, len(m))
	for f, v := range m {
		if f != facet {
			out[f] = v
		}
	}
	return out
}

// FacetValues is one facet with the values selected for it.
type FacetValues struct {
	Facet  Facet
	Values []string
}

func cleanValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" && !slices.Contains(out, trimmed) {
			out = append(out, trimmed)
		}
	}
	return out
}
