package core

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

type Category string

const (
	CategorySalary           Category = "SALARY"
	CategoryBusiness         Category = "BUSINESS"
	CategoryInvestmentIncome Category = "INVESTMENTINCOME"
	CategoryRentalIncome     Category = "RENTALINCOME"
	CategoryTaxRefund        Category = "TAXREFUND"
	CategoryBonus            Category = "BONUS"
	CategoryGifts            Category = "GIFTS"

	CategoryRent          Category = "RENT"
	CategoryUtilities     Category = "UTILITIES"
	CategoryHousehold     Category = "HOUSEHOLD"
	CategoryFuel          Category = "FUEL"
	CategoryTransport     Category = "TRANSPORT"
	CategoryInsurance     Category = "INSURANCE"
	CategoryFood          Category = "FOOD"
	CategoryHealth        Category = "HEALTH"
	CategoryBeauty        Category = "BEAUTY"
	CategoryEntertainment Category = "ENTERTAINMENT"

	// CategoryOther is valid for both transaction types.
	CategoryOther Category = "OTHER"
)

var incomeCategories = []Category{
	CategorySalary,
	CategoryBusiness,
	CategoryInvestmentIncome,
	CategoryRentalIncome,
	CategoryTaxRefund,
	CategoryBonus,
	CategoryGifts,
	CategoryOther,
}

var expenseCategories = []Category{
	CategoryRent,
	CategoryUtilities,
	CategoryHousehold,
	CategoryFuel,
	CategoryTransport,
	CategoryInsurance,
	CategoryFood,
	CategoryHealth,
	CategoryBeauty,
	CategoryEntertainment,
	CategoryOther,
}

// CategoriesFor returns the closed set of categories allowed for t.
func CategoriesFor(t TransactionType) []Category {
	var src []Category
	switch t {
	case Income:
		src = incomeCategories
	case Expense:
		src = expenseCategories
	default:
		return nil
	}
	out := make([]Category, len(src))
	copy(out, src)
	return out
}

func (c Category) ValidFor(t TransactionType) bool {
	for _, allowed := range CategoriesFor(t) {
		if c == allowed {
			return true
		}
	}
	return false
}

// ParseCategory resolves raw against the categories of t. Unknown names
// produce a validation error suggesting the closest allowed category.
func ParseCategory(t TransactionType, raw string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if c == "" {
		return "", Validation("category", "category is required")
	}
	if c.ValidFor(t) {
		return c, nil
	}
	if s := suggestCategory(t, string(c)); s != "" {
		return "", Validation("category", "invalid category %q for %s (did you mean %s?)", raw, t, s)
	}
	return "", Validation("category", "invalid category %q for %s", raw, t)
}

func suggestCategory(t TransactionType, name string) Category {
	var (
		best     Category
		bestDist = -1
	)
	for _, c := range CategoriesFor(t) {
		d := levenshtein.ComputeDistance(name, string(c))
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	// Distant matches are noise.
	if bestDist < 0 || bestDist > len(name)/2+1 {
		return ""
	}
	return best
}
