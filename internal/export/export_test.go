package export

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"makercalc/internal/apperr"
)

func TestMaterialsWorkbookRoundTripsPrices(t *testing.T) {
	t.Parallel()

	data, err := MaterialsWorkbook([]MaterialRow{
		{ID: 3, Name: "Olive Oil", TotalCost: decimal.RequireFromString("25.50"), Quantity: decimal.NewFromInt(500), Unit: "g", UnitCost: decimal.RequireFromString("0.051"), Active: true},
		{ID: 9, Name: "Lye", TotalCost: decimal.RequireFromString("12"), Quantity: decimal.NewFromInt(1), Unit: "kg", UnitCost: decimal.NewFromInt(12)},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	name, err := f.GetCellValue(MaterialsSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Olive Oil", name)
	active, err := f.GetCellValue(MaterialsSheet, "J3")
	require.NoError(t, err)
	assert.Equal(t, "no", active)

	updates, err := ParsePriceSheet(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, uint(3), updates[0].MaterialID)
	assert.True(t, updates[0].TotalCost.Equal(decimal.RequireFromString("25.5")))
	assert.Equal(t, 2, updates[0].Row)
}

func TestFormulationsWorkbookHasIngredientSheet(t *testing.T) {
	t.Parallel()

	target := decimal.NewFromInt(40)
	data, err := FormulationsWorkbook([]FormulationRow{{
		ID:          1,
		Name:        "Castile Bar",
		BatchSize:   decimal.NewFromInt(1),
		BatchUnit:   "kg",
		TotalCost:   decimal.RequireFromString("25.5"),
		TargetPrice: &target,
		Ingredients: []IngredientRow{{Ingredient: "Olive Oil", Kind: "material", Quantity: decimal.NewFromInt(500), Unit: "g", CostContribution: decimal.RequireFromString("25.5"), IncludeInMarkup: true}},
	}})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(IngredientsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Olive Oil", rows[1][2])
	assert.Equal(t, "yes", rows[1][7])
}

func TestParsePriceSheetValidation(t *testing.T) {
	t.Parallel()

	build := func(t *testing.T, rows ...[]any) []byte {
		t.Helper()
		f := excelize.NewFile()
		defer f.Close()
		sheet := f.GetSheetName(0)
		for i, row := range rows {
			require.NoError(t, setRow(f, sheet, i+1, row))
		}
		data, err := write(f)
		require.NoError(t, err)
		return data
	}

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr bool
	}{
		{name: "not xlsx", data: []byte("hello"), wantErr: true},
		{name: "missing columns", data: build(t, []any{"Name", "Cost"}), wantErr: true},
		{name: "empty cost skipped", data: build(t, []any{"ID", "Total Cost"}, []any{1, ""}, []any{2, "3,75"}), want: 1},
		{name: "bad id", data: build(t, []any{"ID", "Total Cost"}, []any{"abc", 1}), wantErr: true},
		{name: "negative cost", data: build(t, []any{"ID", "Total Cost"}, []any{1, -2}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates, err := ParsePriceSheet(bytes.NewReader(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, updates, tt.want)
		})
	}
}
