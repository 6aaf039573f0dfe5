// Package export renders costing data as XLSX workbooks and reads price
// update sheets back in.
package export

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"makercalc/internal/apperr"
)

const (
	MaterialsSheet    = "Materials"
	FormulationsSheet = "Formulations"
	IngredientsSheet  = "Ingredients"
)

// MaterialRow is one exported raw material. UnitCost is written at display precision.
type MaterialRow struct {
	ID        uint
	Name      string
	SKU       string
	Category  string
	Vendor    string
	TotalCost decimal.Decimal
	Quantity  decimal.Decimal
	Unit      string
	UnitCost  decimal.Decimal
	Active    bool
}

// FormulationRow is one exported formulation with display precision costs.
type FormulationRow struct {
	ID                 uint
	Name               string
	BatchSize          decimal.Decimal
	BatchUnit          string
	TotalCost          decimal.Decimal
	UnitCost           decimal.Decimal
	MarkupEligibleCost decimal.Decimal
	MarkupPercentage   decimal.Decimal
	SuggestedPrice     decimal.Decimal
	TargetPrice        *decimal.Decimal
	ProfitMargin       decimal.Decimal
	CostError          string
	Ingredients        []IngredientRow
}

// IngredientRow is one line of an exported formulation.
type IngredientRow struct {
	Ingredient       string
	Kind             string
	Quantity         decimal.Decimal
	Unit             string
	CostContribution decimal.Decimal
	IncludeInMarkup  bool
}

// PriceUpdate is a parsed row of a price import sheet.
type PriceUpdate struct {
	Row        int
	MaterialID uint
	TotalCost  decimal.Decimal
}

var materialHeader = []any{"ID", "Name", "SKU", "Category", "Vendor", "Total Cost", "Quantity", "Unit", "Unit Cost", "Active"}

// MaterialsWorkbook renders rows as a single sheet workbook. The ID and Total
// Cost columns are the ones ParsePriceSheet reads back.
func MaterialsWorkbook(rows []MaterialRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), MaterialsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(MaterialsSheet, "A1", &materialHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, m := range rows {
		row := []any{
			m.ID,
			m.Name,
			m.SKU,
			m.Category,
			m.Vendor,
			m.TotalCost.InexactFloat64(),
			m.Quantity.InexactFloat64(),
			m.Unit,
			m.UnitCost.InexactFloat64(),
			yesNo(m.Active),
		}
		if err := setRow(f, MaterialsSheet, i+2, row); err != nil {
			return nil, err
		}
	}
	return write(f)
}

var (
	formulationHeader = []any{"ID", "Name", "Batch Size", "Batch Unit", "Total Cost", "Unit Cost", "Markup Eligible Cost", "Markup %", "Suggested Price", "Target Price", "Profit Margin %", "Cost Error"}
	ingredientHeader  = []any{"Formulation ID", "Formulation", "Ingredient", "Type", "Quantity", "Unit", "Cost Contribution", "In Markup"}
)

// FormulationsWorkbook renders one summary sheet and one ingredient sheet.
func FormulationsWorkbook(rows []FormulationRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), FormulationsSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(IngredientsSheet); err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.SetSheetRow(FormulationsSheet, "A1", &formulationHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	if err := f.SetSheetRow(IngredientsSheet, "A1", &ingredientHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	ingredientRow := 2
	for i, fr := range rows {
		var target any = ""
		if fr.TargetPrice != nil {
			target = fr.TargetPrice.InexactFloat64()
		}
		row := []any{
			fr.ID,
			fr.Name,
			fr.BatchSize.InexactFloat64(),
			fr.BatchUnit,
			fr.TotalCost.InexactFloat64(),
			fr.UnitCost.InexactFloat64(),
			fr.MarkupEligibleCost.InexactFloat64(),
			fr.MarkupPercentage.InexactFloat64(),
			fr.SuggestedPrice.InexactFloat64(),
			target,
			fr.ProfitMargin.InexactFloat64(),
			fr.CostError,
		}
		if err := setRow(f, FormulationsSheet, i+2, row); err != nil {
			return nil, err
		}

		for _, ing := range fr.Ingredients {
			line := []any{
				fr.ID,
				fr.Name,
				ing.Ingredient,
				ing.Kind,
				ing.Quantity.InexactFloat64(),
				ing.Unit,
				ing.CostContribution.InexactFloat64(),
				yesNo(ing.IncludeInMarkup),
			}
			if err := setRow(f, IngredientsSheet, ingredientRow, line); err != nil {
				return nil, err
			}
			ingredientRow++
		}
	}
	return write(f)
}

// ParsePriceSheet reads the first sheet of an XLSX file and returns the total
// cost updates it carries. The header row must contain an "ID" column and a
// "Total Cost" column; rows whose total cost cell is empty are skipped.
func ParsePriceSheet(r io.Reader) ([]PriceUpdate, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Validation("file", "not a readable .xlsx workbook")
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperr.Validation("file", "workbook has no header row")
	}

	idCol, costCol := -1, -1
	for i, cell := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "id", "material id", "material_id":
			idCol = i
		case "total cost", "total_cost":
			costCol = i
		}
	}
	if idCol < 0 || costCol < 0 {
		return nil, apperr.Validation("file", "header must contain ID and Total Cost columns")
	}

	var updates []PriceUpdate
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		idStr := cellAt(row, idCol)
		costStr := cellAt(row, costCol)
		if idStr == "" || costStr == "" {
			continue
		}

		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || id == 0 {
			return nil, apperr.Validation("id", "row %d: invalid material id %q", i+1, idStr)
		}
		cost, err := decimal.NewFromString(strings.ReplaceAll(costStr, ",", "."))
		if err != nil || cost.IsNegative() {
			return nil, apperr.Validation("total_cost", "row %d: invalid total cost %q", i+1, costStr)
		}
		updates = append(updates, PriceUpdate{Row: i + 1, MaterialID: uint(id), TotalCost: cost})
	}
	return updates, nil
}

func cellAt(row []string, col int) string {
	if col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func write(f *excelize.File) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
