package cells

import (
	"sort"
	"strings"

	"github.com/atlasmap-sc/phenospatial/internal/errs"
)

// AllCategories is the category marker meaning "no tissue category restriction".
const AllCategories = ""

// SelectorKind tags the variants of Selector.
type SelectorKind int

const (
	// KindPhenotype matches one phenotype name exactly.
	KindPhenotype SelectorKind = iota
	// KindAnyOf matches any of a set of phenotype names.
	KindAnyOf
	// KindRule refers to a named rule defined in Rules.
	KindRule
)

func (k SelectorKind) String() string {
	switch k {
	case KindPhenotype:
		return "phenotype"
	case KindAnyOf:
		return "any_of"
	case KindRule:
		return "rule"
	default:
		return "unknown"
	}
}

// Selector describes which phenotypes to select before rules are resolved.
// Build one with Phenotype, AnyOf or Rule.
type Selector struct {
	Kind  SelectorKind
	Names []string
}

// Phenotype selects points whose phenotype equals name.
func Phenotype(name string) Selector {
	return Selector{Kind: KindPhenotype, Names: []string{name}}
}

// AnyOf selects points whose phenotype is any of names.
func AnyOf(names ...string) Selector {
	return Selector{Kind: KindAnyOf, Names: append([]string(nil), names...)}
}

// Rule refers to the rule called name.
func Rule(name string) Selector {
	return Selector{Kind: KindRule, Names: []string{name}}
}

// Label is the display name used in result rows.
func (s Selector) Label() string {
	return strings.Join(s.Names, "/")
}

// Rules maps pseudo-phenotype names to their definitions, e.g.
// "T cell" -> AnyOf("CD8+", "FoxP3+").
type Rules map[string]Selector

// Validate checks that every rule is defined by literal names.
func (r Rules) Validate() error {
	for name, sel := range r {
		if name == "" {
			return errs.Validation("rules", "rule with empty name")
		}
		if sel.Kind == KindRule {
			return errs.Validation("rules", "rule %q refers to rule %q; rules must list phenotypes", name, sel.Label())
		}
		if len(sel.Names) == 0 {
			return errs.Validation("rules", "rule %q selects no phenotypes", name)
		}
	}
	return nil
}

// Resolve turns a selector into a concrete predicate. A literal phenotype
// that names a rule is replaced by the rule. Referring to an undefined rule
// is a validation error.
func (r Rules) Resolve(s Selector) (Predicate, error) {
	switch s.Kind {
	case KindPhenotype:
		if len(s.Names) != 1 || s.Names[0] == "" {
			return Predicate{}, errs.Validation("resolve", "phenotype selector needs exactly one non-empty name")
		}
		if def, ok := r[s.Names[0]]; ok && def.Kind != KindRule {
			return newPredicate(s.Names[0], def.Names), nil
		}
		return newPredicate(s.Names[0], s.Names), nil
	case KindAnyOf:
		if len(s.Names) == 0 {
			return Predicate{}, errs.Validation("resolve", "empty phenotype set")
		}
		return newPredicate(s.Label(), s.Names), nil
	case KindRule:
		if len(s.Names) != 1 {
			return Predicate{}, errs.Validation("resolve", "rule selector needs exactly one name")
		}
		def, ok := r[s.Names[0]]
		if !ok {
			return Predicate{}, errs.Validation("resolve", "undefined rule %q", s.Names[0])
		}
		if def.Kind == KindRule {
			return Predicate{}, errs.Validation("resolve", "rule %q refers to another rule", s.Names[0])
		}
		return newPredicate(s.Names[0], def.Names), nil
	default:
		return Predicate{}, errs.Validation("resolve", "unknown selector kind %d", int(s.Kind))
	}
}

// Predicate is a resolved phenotype selection.
type Predicate struct {
	Label string
	names map[string]struct{}
}

func newPredicate(label string, names []string) Predicate {
	p := Predicate{Label: label, names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		p.names[n] = struct{}{}
	}
	return p
}

// PhenotypePredicate selects a single literal phenotype without rule lookup.
func PhenotypePredicate(name string) Predicate {
	return newPredicate(name, []string{name})
}

// Match reports whether phenotype is selected.
func (p Predicate) Match(phenotype string) bool {
	_, ok := p.names[phenotype]
	return ok
}

// Names returns the selected phenotypes in sorted order.
func (p Predicate) Names() []string {
	out := make([]string, 0, len(p.names))
	for n := range p.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Key identifies the selected phenotype set independent of the label.
func (p Predicate) Key() string {
	return strings.Join(p.Names(), "\x1f")
}

// ValidateCategories normalises a category list. An empty list means all
// cells; mixing AllCategories with named categories is rejected.
func ValidateCategories(categories []string) ([]string, error) {
	if len(categories) == 0 {
		return []string{AllCategories}, nil
	}
	hasAll, hasNamed := false, false
	for _, c := range categories {
		if c == AllCategories {
			hasAll = true
		} else {
			hasNamed = true
		}
	}
	if hasAll && hasNamed {
		return nil, errs.Validation("categories", "cannot mix all-cells with named categories %v", categories)
	}
	return categories, nil
}
