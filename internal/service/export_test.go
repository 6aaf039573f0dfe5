package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"makercalc/internal/apperr"
	"makercalc/internal/export"
	"makercalc/models"
)

func TestExportMaterialsAndImportPrices(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Options{})
	ws := newSoapWorkspace(t, svc)

	data, err := svc.ExportMaterials(ctx, ws.user)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	rows, err := f.GetRows(export.MaterialsSheet)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Len(t, rows, 3)

	// Raise the olive oil price in the exported sheet and add an unknown row.
	f, err = excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	for i, row := range rows[1:] {
		if row[1] == "Olive Oil" {
			require.NoError(t, f.SetCellValue(export.MaterialsSheet, cellName(t, 6, i+2), 35.5))
		}
	}
	require.NoError(t, f.SetCellValue(export.MaterialsSheet, "A4", 999))
	require.NoError(t, f.SetCellValue(export.MaterialsSheet, "F4", 1))
	buf := &bytes.Buffer{}
	require.NoError(t, f.Write(buf))
	require.NoError(t, f.Close())

	report, err := svc.ImportPrices(ctx, ws.user, buf)
	require.NoError(t, err)
	assert.Equal(t, []uint{ws.oil.ID}, report.Updated)
	assert.Equal(t, []uint{ws.lye.ID}, report.Unchanged)
	assert.Contains(t, report.Skipped, 4)
	assert.Equal(t, []uint{ws.base.ID, ws.bar.ID, ws.gift.ID}, report.Refresh.Updated)

	oil, err := svc.GetMaterial(ctx, ws.user, ws.oil.ID)
	require.NoError(t, err)
	assertDecimal(t, "0.071", oil.UnitCost, 4)

	entries, err := svc.RecentActivity(ctx, ws.user, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditImport, entries[0].Action)
}

func TestImportPricesRejectsInvalidWorkbook(t *testing.T) {
	svc := newTestService(t, Options{})
	user := createUser(t, svc, "bad@example.com")

	_, err := svc.ImportPrices(context.Background(), user, bytes.NewReader([]byte("not a workbook")))
	assert.True(t, apperr.IsValidation(err))
}

func TestExportFormulationsIncludesCostErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Options{})
	ws := newSoapWorkspace(t, svc)

	require.NoError(t, svc.db.Model(&models.Formulation{}).Where("id = ?", ws.base.ID).Update("batch_unit", "L").Error)
	_, err := svc.RefreshCosts(ctx, ws.user)
	require.NoError(t, err)

	data, err := svc.ExportFormulations(ctx, ws.user)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(export.FormulationsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	byName := map[string][]string{}
	for _, row := range rows[1:] {
		byName[row[1]] = row
	}
	assert.Len(t, byName["Lavender Bar"], 12)
	assert.NotEmpty(t, byName["Lavender Bar"][11])
	assert.Equal(t, "25.5", byName["Soap Base"][4])

	ingredients, err := f.GetRows(export.IngredientsSheet)
	require.NoError(t, err)
	assert.Len(t, ingredients, 5)
}

func cellName(t *testing.T, col, row int) string {
	t.Helper()
	name, err := excelize.CoordinatesToCellName(col, row)
	require.NoError(t, err)
	return name
}
