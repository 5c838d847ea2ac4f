package domain

import "strings"

// Category is one of a fixed set of spending categories.
type Category string

const (
	CategoryPending        Category = "Pending"
	CategoryGroceries      Category = "Groceries"
	CategoryDiningOut      Category = "Dining Out"
	CategoryUtilities      Category = "Utilities"
	CategoryTransportation Category = "Transportation"
	CategoryEntertainment  Category = "Entertainment"
	CategoryHealthcare     Category = "Healthcare"
	CategoryShopping       Category = "Shopping"
	CategoryHousing        Category = "Housing"
	CategoryEducation      Category = "Education"
	CategoryMiscellaneous  Category = "Miscellaneous"
)

// CategoryFallback is assigned whenever a classification is missing or invalid.
const CategoryFallback = CategoryMiscellaneous

var allCategories = []Category{
	CategoryPending,
	CategoryGroceries,
	CategoryDiningOut,
	CategoryUtilities,
	CategoryTransportation,
	CategoryEntertainment,
	CategoryHealthcare,
	CategoryShopping,
	CategoryHousing,
	CategoryEducation,
	CategoryMiscellaneous,
}

// Categories returns every category, including the Pending sentinel.
func Categories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// AssignableCategories returns the categories a classifier may produce.
func AssignableCategories() []Category {
	out := make([]Category, 0, len(allCategories)-1)
	for _, c := range allCategories {
		if c != CategoryPending {
			out = append(out, c)
		}
	}
	return out
}

// IsValid reports whether c is a known category (Pending included).
func (c Category) IsValid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// IsAssignable reports whether c is a known category other than Pending.
func (c Category) IsAssignable() bool {
	return c != CategoryPending && c.IsValid()
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory matches s case-insensitively against the assignable categories.
// Pending is never returned.
func ParseCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	for _, c := range allCategories {
		if c == CategoryPending {
			continue
		}
		if strings.EqualFold(string(c), s) {
			return c, true
		}
	}
	return "", false
}

// ResolveCategory is ParseCategory with the fallback applied.
func ResolveCategory(s string) Category {
	if c, ok := ParseCategory(s); ok {
		return c
	}
	return CategoryFallback
}
