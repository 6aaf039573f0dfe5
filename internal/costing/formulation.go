package costing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"makercalc/internal/apperr"
)

// DefaultMarkupPercentage applies when a formulation is created without one.
var DefaultMarkupPercentage = decimal.NewFromInt(30)

var maxMarkupPercentage = decimal.NewFromInt(1000)

// IngredientInput is one ingredient line. Exactly one of MaterialID and
// SubFormulationID is set.
type IngredientInput struct {
	ID               uint
	MaterialID       *uint
	SubFormulationID *uint
	Quantity         decimal.Decimal
	Unit             string
	IncludeInMarkup  bool
}

// FormulationInput captures the persisted fields a cost rollup depends on.
type FormulationInput struct {
	ID               uint
	BatchSize        decimal.Decimal
	BatchUnit        string
	MarkupPercentage decimal.Decimal
	TargetPrice      *decimal.Decimal
	Ingredients      []IngredientInput
}

// Source is the unit cost and unit of whatever an ingredient references.
type Source struct {
	UnitCost decimal.Decimal
	Unit     string
}

// Resolver looks up the current unit cost of referenced materials and sub-formulations.
type Resolver interface {
	Material(id uint) (Source, error)
	Formulation(id uint) (Source, error)
}

// LineCost is the derived contribution of a single ingredient.
type LineCost struct {
	IngredientID     uint
	CostContribution decimal.Decimal
}

// Breakdown holds every derived cost field of a formulation at full precision.
type Breakdown struct {
	Lines              []LineCost
	TotalCost          decimal.Decimal
	UnitCost           decimal.Decimal
	MarkupEligibleCost decimal.Decimal
	SuggestedPrice     decimal.Decimal
	EffectivePrice     decimal.Decimal
	ProfitMargin       decimal.Decimal
}

// Rounded returns the breakdown with display precision applied.
func (b Breakdown) Rounded() Breakdown {
	lines := make([]LineCost, len(b.Lines))
	for i, line := range b.Lines {
		lines[i] = LineCost{IngredientID: line.IngredientID, CostContribution: line.CostContribution.Round(CostPlaces)}
	}
	return Breakdown{
		Lines:              lines,
		TotalCost:          b.TotalCost.Round(CostPlaces),
		UnitCost:           b.UnitCost.Round(CostPlaces),
		MarkupEligibleCost: b.MarkupEligibleCost.Round(CostPlaces),
		SuggestedPrice:     b.SuggestedPrice.Round(PricePlaces),
		EffectivePrice:     b.EffectivePrice.Round(PricePlaces),
		ProfitMargin:       b.ProfitMargin.Round(PricePlaces),
	}
}

// Stored returns the breakdown at the scale of the persisted columns, so a
// value read back compares equal to the one that was written.
func (b Breakdown) Stored() Breakdown {
	lines := make([]LineCost, len(b.Lines))
	for i, line := range b.Lines {
		lines[i] = LineCost{IngredientID: line.IngredientID, CostContribution: line.CostContribution.Round(StoredPlaces)}
	}
	return Breakdown{
		Lines:              lines,
		TotalCost:          b.TotalCost.Round(StoredPlaces),
		UnitCost:           b.UnitCost.Round(StoredPlaces),
		MarkupEligibleCost: b.MarkupEligibleCost.Round(StoredPlaces),
		SuggestedPrice:     b.SuggestedPrice.Round(StoredPlaces),
		EffectivePrice:     b.EffectivePrice.Round(StoredPlaces),
		ProfitMargin:       b.ProfitMargin.Round(StoredPlaces),
	}
}

// Contribution returns the cost contribution of the given ingredient, if present.
func (b Breakdown) Contribution(ingredientID uint) (decimal.Decimal, bool) {
	for _, line := range b.Lines {
		if line.IngredientID == ingredientID {
			return line.CostContribution, true
		}
	}
	return decimal.Zero, false
}

// ValidateFormulation checks the formulation level invariants.
func ValidateFormulation(batchSize, markup decimal.Decimal) error {
	if !batchSize.IsPositive() {
		return apperr.Validation("batch_size", "must be greater than zero, got %s", batchSize.String())
	}
	if markup.IsNegative() || markup.GreaterThan(maxMarkupPercentage) {
		return apperr.Validation("markup_percentage", "must be between 0 and 1000, got %s", markup.String())
	}
	return nil
}

// ValidateIngredient checks a single ingredient line in isolation.
func ValidateIngredient(in IngredientInput) error {
	hasMaterial := in.MaterialID != nil && *in.MaterialID != 0
	hasSub := in.SubFormulationID != nil && *in.SubFormulationID != 0
	if hasMaterial && hasSub {
		return apperr.Validation("ingredient", "only one of material_id or sub_formulation_id may be set")
	}
	if !hasMaterial && !hasSub {
		return apperr.Validation("ingredient", "either material_id or sub_formulation_id must be provided")
	}
	if !in.Quantity.IsPositive() {
		return apperr.Validation("quantity", "must be greater than zero, got %s", in.Quantity.String())
	}
	return nil
}

// Compute derives the cost breakdown of a formulation from the current unit
// cost of everything it references. Units must match exactly; no conversion
// is attempted.
func Compute(in FormulationInput, resolver Resolver) (Breakdown, error) {
	if err := ValidateFormulation(in.BatchSize, in.MarkupPercentage); err != nil {
		return Breakdown{}, err
	}

	out := Breakdown{Lines: make([]LineCost, 0, len(in.Ingredients))}
	if len(in.Ingredients) == 0 {
		return out, nil
	}

	total := decimal.Zero
	eligible := decimal.Zero
	for _, ing := range in.Ingredients {
		contribution, err := lineCost(in.ID, ing, resolver)
		if err != nil {
			return Breakdown{}, err
		}
		out.Lines = append(out.Lines, LineCost{IngredientID: ing.ID, CostContribution: contribution})
		total = total.Add(contribution)
		if ing.IncludeInMarkup {
			eligible = eligible.Add(contribution)
		}
	}

	out.TotalCost = total
	out.UnitCost = total.Div(in.BatchSize)
	out.MarkupEligibleCost = eligible
	out.SuggestedPrice = eligible.Mul(decimal.NewFromInt(1).Add(in.MarkupPercentage.Div(hundred)))
	out.EffectivePrice = out.SuggestedPrice
	if in.TargetPrice != nil && in.TargetPrice.IsPositive() {
		out.EffectivePrice = *in.TargetPrice
	}
	out.ProfitMargin = Margin(out.EffectivePrice, eligible)
	return out, nil
}

// Margin is (price - cost) / price as a percentage, or zero for a non-positive price.
func Margin(price, cost decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(cost).Div(price).Mul(hundred)
}

func lineCost(formulationID uint, ing IngredientInput, resolver Resolver) (decimal.Decimal, error) {
	if err := ValidateIngredient(ing); err != nil {
		return decimal.Zero, err
	}
	unit, err := NormalizeUnit(ing.Unit)
	if err != nil {
		return decimal.Zero, err
	}

	var (
		source Source
		kind   string
	)
	if ing.MaterialID != nil && *ing.MaterialID != 0 {
		kind = "material"
		source, err = resolver.Material(*ing.MaterialID)
	} else {
		if *ing.SubFormulationID == formulationID {
			return decimal.Zero, &apperr.CycleError{Path: []uint{formulationID, formulationID}}
		}
		kind = "sub-formulation"
		source, err = resolver.Formulation(*ing.SubFormulationID)
	}
	if err != nil {
		return decimal.Zero, err
	}

	sourceUnit, err := NormalizeUnit(source.Unit)
	if err != nil {
		return decimal.Zero, err
	}
	if sourceUnit != unit {
		return decimal.Zero, apperr.Validation("unit", "ingredient %d uses %s but the referenced %s is priced per %s", ing.ID, unit, kind, sourceUnit)
	}

	contribution := source.UnitCost.Mul(ing.Quantity)
	if contribution.IsNegative() {
		return decimal.Zero, fmt.Errorf("ingredient %d: negative cost contribution %s", ing.ID, contribution)
	}
	return contribution, nil
}
