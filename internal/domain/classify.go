package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// OtherCategoryID is the reserved id of the sentinel category assigned when no
// keyword matches.
const OtherCategoryID = "other"

// Category is a severity/type bucket. Keywords are matched in declared order.
type Category struct {
	ID          string   `json:"id" yaml:"id"`
	DisplayName string   `json:"display_name" yaml:"display_name"`
	Color       string   `json:"color" yaml:"color"`
	Keywords    []string `json:"-" yaml:"keywords"`
	Critical    bool     `json:"critical" yaml:"critical"`
}

// Classifier maps free-text incident types onto an ordered taxonomy.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	categories []compiledCategory
	other      Category
}

type compiledCategory struct {
	category Category
	keywords []string // folded once at construction
}

// NewClassifier precomputes folded keywords for every category in t.
func NewClassifier(t Taxonomy) *Classifier {
	c := &Classifier{
		categories: make([]compiledCategory, 0, len(t.Categories)),
		other:      t.Other,
	}
	for _, cat := range t.Categories {
		cc := compiledCategory{category: cat, keywords: make([]string, 0, len(cat.Keywords))}
		for _, kw := range cat.Keywords {
			if folded := foldText(kw); folded != "" {
				cc.keywords = append(cc.keywords, folded)
			}
		}
		c.categories = append(c.categories, cc)
	}
	return c
}

// Classify returns the first category, in priority order, with a keyword
// contained in typeText. Empty input yields the Other category without scanning.
func (c *Classifier) Classify(typeText string) Category {
	if strings.TrimSpace(typeText) == "" {
		return c.other
	}
	text := foldText(typeText)
	for _, cc := range c.categories {
		for _, kw := range cc.keywords {
			if strings.Contains(text, kw) {
				return cc.category
			}
		}
	}
	return c.other
}

// Categories returns the taxonomy in priority order, followed by Other.
func (c *Classifier) Categories() []Category {
	out := make([]Category, 0, len(c.categories)+1)
	for _, cc := range c.categories {
		out = append(out, cc.category)
	}
	return append(out, c.other)
}

// foldText lowercases s and strips diacritics ("Riña" -> "rina").
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}
