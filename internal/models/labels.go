package models

import (
	"slices"
	"strings"
)

// Category is one of the closed set of auto-categories.
type Category string

const (
	CategorySocial     Category = "social"
	CategoryUpdates    Category = "updates"
	CategoryForums     Category = "forums"
	CategoryShopping   Category = "shopping"
	CategoryPromotions Category = "promotions"
)

// Categories is the closed category vocabulary.
var Categories = []Category{
	CategorySocial,
	CategoryUpdates,
	CategoryForums,
	CategoryShopping,
	CategoryPromotions,
}

// IsCategory reports whether the label belongs to the closed category set.
func IsCategory(label string) bool {
	return slices.Contains(Categories, Category(label))
}

// CategoriesOf derives the category view of a label set, preserving label order.
func CategoriesOf(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if IsCategory(l) && !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	return out
}

// NormalizeLabel trims and lowercases a free-form label. Empty labels are invalid.
func NormalizeLabel(label string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" || len(l) > 64 {
		return "", false
	}
	return l, true
}
