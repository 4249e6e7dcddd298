package models

import (
	"fmt"
	"strings"
)

// Category is a coarse classification tag used to scope retrieval.
type Category string

const (
	CategoryContract Category = "Contract"
	CategoryMedical  Category = "Medical"
	CategoryOther    Category = "Other"
)

// Categories lists every known category in a stable order.
var Categories = []Category{CategoryContract, CategoryMedical, CategoryOther}

// labels the first deployment used for categories
var legacyCategoryLabels = map[string]Category{
	"umowy":    CategoryContract,
	"medyczne": CategoryMedical,
	"inne":     CategoryOther,
}

// ParseCategory accepts a category name in any case, or one of the legacy labels.
func ParseCategory(s string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if strings.ToLower(string(c)) == key {
			return c, nil
		}
	}
	if c, ok := legacyCategoryLabels[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q: %w", s, ErrInvalidInput)
}

// ParseCategories parses a list of labels, dropping duplicates while keeping order.
func ParseCategories(labels []string) ([]Category, error) {
	var out []Category
	seen := make(map[Category]bool)
	for _, l := range labels {
		c, err := ParseCategory(l)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	return string(c)
}
