// Package costing derives material unit costs and formulation cost rollups.
// Every function here is pure: callers load the current persisted state, hand
// it in, and write the derived values back.
package costing

import (
	"strings"

	"github.com/shopspring/decimal"

	"makercalc/internal/apperr"
)

const (
	// CostPlaces is the display precision for unit costs and contributions.
	CostPlaces = 4
	// PricePlaces is the display precision for prices and margins.
	PricePlaces = 2
	// InputPlaces is the largest scale accepted on user entered amounts.
	InputPlaces = 4
	// StoredPlaces is the scale of every persisted derived value.
	StoredPlaces = 12
)

var hundred = decimal.NewFromInt(100)

// UnitCost returns totalCost / quantity at full division precision.
func UnitCost(totalCost, quantity decimal.Decimal) (decimal.Decimal, error) {
	if !quantity.IsPositive() {
		return decimal.Zero, apperr.Validation("quantity", "must be greater than zero, got %s", quantity.String())
	}
	if totalCost.IsNegative() {
		return decimal.Zero, apperr.Validation("total_cost", "must not be negative, got %s", totalCost.String())
	}
	return totalCost.Div(quantity), nil
}

// ValidateScale rejects amounts with more decimal places than the columns
// holding user input can keep.
func ValidateScale(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(InputPlaces)) {
		return apperr.Validation(field, "must have at most %d decimal places, got %s", InputPlaces, d.String())
	}
	return nil
}

// DisplayUnitCost rounds a unit cost for presentation only.
func DisplayUnitCost(d decimal.Decimal) decimal.Decimal {
	return d.Round(CostPlaces)
}

var unitAliases = map[string]string{
	"kg":     "kg",
	"kgs":    "kg",
	"g":      "g",
	"gram":   "g",
	"grams":  "g",
	"l":      "L",
	"liter":  "L",
	"litre":  "L",
	"ml":     "ml",
	"oz":     "oz",
	"lb":     "lb",
	"lbs":    "lb",
	"pcs":    "pcs",
	"pc":     "pcs",
	"piece":  "pcs",
	"pieces": "pcs",
}

// Units lists the canonical unit spellings accepted on materials and ingredients.
var Units = []string{"kg", "g", "L", "ml", "oz", "lb", "pcs"}

// NormalizeUnit maps a user supplied unit onto its canonical spelling.
func NormalizeUnit(unit string) (string, error) {
	canonical, ok := unitAliases[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return "", apperr.Validation("unit", "unsupported unit %q, expected one of %s", unit, strings.Join(Units, ", "))
	}
	return canonical, nil
}
