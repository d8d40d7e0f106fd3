package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
)

// selectorJSON decodes the three selector forms:
//
//	"CD8+"                 a literal phenotype
//	["CD8+", "FoxP3+"]     any of a set of phenotypes
//	{"rule": "T cell"}     a reference to a rule
type selectorJSON struct {
	cells.Selector
}

func (s *selectorJSON) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errors.New("selector must not be null")
	}
	switch raw[0] {
	case '"':
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return err
		}
		s.Selector = cells.Phenotype(name)
	case '[':
		var names []string
		if err := json.Unmarshal(raw, &names); err != nil {
			return err
		}
		s.Selector = cells.AnyOf(names...)
	case '{':
		var ref struct {
			Rule string `json:"rule"`
		}
		if err := json.Unmarshal(raw, &ref); err != nil {
			return err
		}
		if ref.Rule == "" {
			return errors.New(`selector object needs a "rule" name`)
		}
		s.Selector = cells.Rule(ref.Rule)
	default:
		return errors.New("selector must be a string, an array of strings, or {\"rule\": name}")
	}
	return nil
}

// ruleSetJSON is the request form of selection rules.
type ruleSetJSON map[string][]string

// merge overlays request rules on the configured ones.
func (r ruleSetJSON) merge(base cells.Rules) cells.Rules {
	if len(r) == 0 {
		return base
	}
	out := make(cells.Rules, len(base)+len(r))
	for k, v := range base {
		out[k] = v
	}
	for k, names := range r {
		out[k] = cells.AnyOf(names...)
	}
	return out
}

// parseNameList reads names from a query parameter, given either repeated
// (?phenotypes=CD8%2B&phenotypes=CK%2B) or as one comma-separated value.
// Repeated values are taken whole, so names may contain commas. ok is false
// when the parameter is absent.
func parseNameList(query url.Values, key string) ([]string, bool) {
	values, ok := query[key]
	if !ok {
		return nil, false
	}
	if len(values) == 1 {
		values = strings.Split(values[0], ",")
	}
	names := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			names = append(names, v)
		}
	}
	return names, true
}
