package domain

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTaxonomy is returned when a taxonomy document fails validation.
var ErrInvalidTaxonomy = errors.New("invalid taxonomy")

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

// Taxonomy is the ordered category list plus the Other sentinel.
// Declaration order is priority order.
type Taxonomy struct {
	Categories []Category `yaml:"categories"`
	Other      Category   `yaml:"other"`
}

// DefaultTaxonomy returns the embedded taxonomy.
func DefaultTaxonomy() (Taxonomy, error) {
	return ParseTaxonomy(defaultTaxonomyYAML)
}

// LoadTaxonomy reads a taxonomy from path, or the embedded default when path is empty.
func LoadTaxonomy(path string) (Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, fmt.Errorf("read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy decodes and validates a YAML taxonomy document.
func ParseTaxonomy(data []byte) (Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Taxonomy{}, fmt.Errorf("decode taxonomy: %w", err)
	}
	if t.Other.ID == "" {
		t.Other = Category{ID: OtherCategoryID, DisplayName: "Otro", Color: "gray"}
	}
	if err := t.validate(); err != nil {
		return Taxonomy{}, err
	}
	return t, nil
}

// WithCritical returns a copy of t whose critical flags are exactly ids.
// Unknown ids are an error so a typo in configuration cannot silently
// disable the fast refresh tier.
func (t Taxonomy) WithCritical(ids []string) (Taxonomy, error) {
	out := Taxonomy{Other: t.Other, Categories: make([]Category, len(t.Categories))}
	copy(out.Categories, t.Categories)
	out.Other.Critical = false

	for _, id := range ids {
		if !slices.ContainsFunc(out.Categories, func(c Category) bool { return c.ID == id }) {
			return Taxonomy{}, fmt.Errorf("%w: unknown critical category %q", ErrInvalidTaxonomy, id)
		}
	}
	for i := range out.Categories {
		out.Categories[i].Critical = slices.Contains(ids, out.Categories[i].ID)
	}
	return out, nil
}

func (t Taxonomy) validate() error {
	if len(t.Categories) == 0 {
		return fmt.Errorf("%w: no categories", ErrInvalidTaxonomy)
	}
	if t.Other.ID != OtherCategoryID {
		return fmt.Errorf("%w: other category must have id %q", ErrInvalidTaxonomy, OtherCategoryID)
	}
	seen := make(map[string]bool, len(t.Categories))
	for i, c := range t.Categories {
		id := strings.TrimSpace(c.ID)
		switch {
		case id == "":
			return fmt.Errorf("%w: category %d has no id", ErrInvalidTaxonomy, i)
		case id == OtherCategoryID:
			return fmt.Errorf("%w: id %q is reserved", ErrInvalidTaxonomy, OtherCategoryID)
		case seen[id]:
			return fmt.Errorf("%w: duplicate category %q", ErrInvalidTaxonomy, id)
		case len(c.Keywords) == 0:
			return fmt.Errorf("%w: category %q has no keywords", ErrInvalidTaxonomy, id)
		}
		seen[id] = true
	}
	return nil
}
