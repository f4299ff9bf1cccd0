// Package catalog holds the built-in activity categories.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/carecompanion/internal/domain"
)

//go:embed categories.yaml
var builtin []byte

// Category is a selectable activity category.
type Category struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Icon        string   `yaml:"icon" json:"icon"`
	Aliases     []string `yaml:"aliases" json:"-"`
}

type file struct {
	Categories []Category `yaml:"categories"`
}

// Catalog is an ordered, immutable set of categories.
type Catalog struct {
	list []Category
	byID map[string]int
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("embedded categories.yaml: %v", err))
	}
	return c
}

// Parse reads a catalog from YAML. Ids must be unique and non-empty.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse categories: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("no categories defined")
	}

	c := &Catalog{byID: make(map[string]int, len(f.Categories))}
	for _, cat := range f.Categories {
		cat.ID = strings.ToLower(strings.TrimSpace(cat.ID))
		if cat.ID == "" {
			return nil, fmt.Errorf("category %q has no id", cat.Name)
		}
		if _, dup := c.byID[cat.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %q", cat.ID)
		}
		c.byID[cat.ID] = len(c.list)
		c.list = append(c.list, cat)
	}
	return c, nil
}

// All returns the categories in catalog order.
func (c *Catalog) All() []Category {
	out := make([]Category, len(c.list))
	copy(out, c.list)
	return out
}

// Get looks a category up by id, case-insensitively.
func (c *Catalog) Get(id string) (Category, bool) {
	i, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Category{}, false
	}
	return c.list[i], true
}

// Resolve maps a user selection to canonical category ids. Unknown ids are
// a validation error.
func (c *Catalog) Resolve(selection []string) ([]string, error) {
	selection = domain.NormalizeSet(selection)
	out := make([]string, 0, len(selection))
	seen := make(map[string]struct{}, len(selection))
	for _, s := range selection {
		cat, ok := c.Get(s)
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, s)
		}
		if _, dup := seen[cat.ID]; dup {
			continue
		}
		seen[cat.ID] = struct{}{}
		out = append(out, cat.ID)
	}
	return out, nil
}

// Matches reports whether a feed label such as "Social" or "Social Events"
// belongs to the category with id.
func (c *Catalog) Matches(id, label string) bool {
	cat, ok := c.Get(id)
	if !ok {
		return false
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return false
	}
	if label == cat.ID || label == strings.ToLower(cat.Name) {
		return true
	}
	for _, a := range cat.Aliases {
		if label == strings.ToLower(a) {
			return true
		}
	}
	return false
}

// CategoryOf returns the id of the category a feed label belongs to.
func (c *Catalog) CategoryOf(label string) (string, bool) {
	for _, cat := range c.list {
		if c.Matches(cat.ID, label) {
			return cat.ID, true
		}
	}
	return "", false
}
