package catalog

import (
	"errors"
	"testing"

	"github.com/ashureev/carecompanion/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	c := Default()
	all := c.All()
	want := []string{"physical", "social", "mental", "creative", "nature", "animals"}
	if len(all) != len(want) {
		t.Fatalf("expected %d categories, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id || all[i].Name == "" || all[i].Icon == "" {
			t.Fatalf("category %d: unexpected %+v", i, all[i])
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	c := Default()
	ids, err := c.Resolve([]string{"Social", " nature ", "social", ""})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "social" || ids[1] != "nature" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := c.Resolve([]string{"knitting"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	c := Default()
	tests := []struct {
		id, label string
		want      bool
	}{
		{"social", "Social", true},
		{"social", "SOCIAL EVENTS", true},
		{"social", "community", true},
		{"nature", "Gardening", true},
		{"nature", "Social", false},
		{"social", "", false},
		{"unknown", "social", false},
	}
	for _, tt := range tests {
		if got := c.Matches(tt.id, tt.label); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.id, tt.label, got, tt.want)
		}
	}
	if id, ok := c.CategoryOf("Pets"); !ok || id != "animals" {
		t.Fatalf("CategoryOf(Pets) = %q, %v", id, ok)
	}
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	t.Parallel()

	bad := []string{
		"categories: []",
		"categories:\n  - name: No id\n",
		"categories:\n  - id: a\n  - id: A\n",
		"categories: [",
	}
	for _, in := range bad {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}
