package api

import (
	"encoding/json"
	"net/url"
	"reflect"
	"testing"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
)

func TestSelectorJSON(t *testing.T) {
	cases := map[string]cells.Selector{
		`"CD8+"`:            cells.Phenotype("CD8+"),
		`["CD8+","FoxP3+"]`: cells.AnyOf("CD8+", "FoxP3+"),
		`{"rule":"T cell"}`: cells.Rule("T cell"),
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			var s selectorJSON
			if err := json.Unmarshal([]byte(raw), &s); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(s.Selector, want) {
				t.Fatalf("expected %#v, got %#v", want, s.Selector)
			}
		})
	}

	for _, raw := range []string{`42`, `{"name":"x"}`, `true`} {
		t.Run("invalid "+raw, func(t *testing.T) {
			var s selectorJSON
			if err := json.Unmarshal([]byte(raw), &s); err == nil {
				t.Fatalf("expected error for %s", raw)
			}
		})
	}
}

func TestRuleSetMerge(t *testing.T) {
	base := cells.Rules{"T cell": cells.AnyOf("CD8+")}

	if got := ruleSetJSON(nil).merge(base); !reflect.DeepEqual(got, base) {
		t.Fatalf("expected base rules, got %#v", got)
	}

	got := ruleSetJSON{"T cell": {"CD8+", "FoxP3+"}, "Macrophage": {"CD68+"}}.merge(base)
	if len(got) != 2 || len(got["T cell"].Names) != 2 {
		t.Fatalf("expected request rules to override, got %#v", got)
	}
	if len(base["T cell"].Names) != 1 {
		t.Fatalf("base rules were modified")
	}
}

func TestParseNameList(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		names, ok := parseNameList(url.Values{}, "phenotypes")
		if ok {
			t.Fatalf("expected ok=false, got true")
		}
		if names != nil {
			t.Fatalf("expected nil list, got %#v", names)
		}
	})

	t.Run("commaSeparated", func(t *testing.T) {
		q, _ := url.ParseQuery("phenotypes=CD8%2B,CK%2B")
		names, ok := parseNameList(q, "phenotypes")
		want := []string{"CD8+", "CK+"}
		if !ok || !reflect.DeepEqual(names, want) {
			t.Fatalf("expected %#v, got %#v (ok=%v)", want, names, ok)
		}
	})

	t.Run("emptyString", func(t *testing.T) {
		names, ok := parseNameList(url.Values{"phenotypes": {""}}, "phenotypes")
		if !ok || names == nil || len(names) != 0 {
			t.Fatalf("expected non-nil empty list, got %#v", names)
		}
	})

	t.Run("repeatedParams", func(t *testing.T) {
		names, ok := parseNameList(url.Values{"phenotypes": {"CD8+", " CK+ ", "Other, misc"}}, "phenotypes")
		want := []string{"CD8+", "CK+", "Other, misc"}
		if !ok || !reflect.DeepEqual(names, want) {
			t.Fatalf("expected %#v, got %#v", want, names)
		}
	})
}
