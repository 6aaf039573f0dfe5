package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makercalc/internal/apperr"
	"makercalc/internal/quota"
	"makercalc/models"
)

func TestActivityIsRecordedAndPurged(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	svc := newTestService(t, Options{Now: func() time.Time { return now }})
	user := createUser(t, svc, "audit@example.com")

	createMaterials(t, svc, user, 2)
	entries, err := svc.RecentActivity(ctx, user, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditCreate, entries[0].Action)
	assert.Equal(t, "material", entries[0].EntityType)

	old := models.AuditLogEntry{UserID: user, Action: models.AuditUpdate, EntityType: "material", CreatedAt: now.Add(-100 * 24 * time.Hour)}
	require.NoError(t, svc.db.Create(&old).Error)

	removed, err := svc.PurgeActivity(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = svc.PurgeActivity(ctx, 0)
	assert.Error(t, err)
}

func TestDashboardSummary(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Options{})
	ws := newSoapWorkspace(t, svc)

	summary, err := svc.DashboardSummary(ctx, ws.user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Counts[quota.Materials])
	assert.Equal(t, int64(3), summary.Counts[quota.Formulations])
	assertDecimal(t, "37.50", summary.InventoryValue, 2)
	assertDecimal(t, "23.08", summary.AverageMargin, 2)
	assert.Equal(t, models.PlanPro, summary.Tier)
	assert.False(t, summary.SoftLocked)
	assert.NotEmpty(t, summary.RecentActivity)
}

func TestLookupNamesAreUniquePerUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Options{Plans: smallPlans(t)})
	user := createUser(t, svc, "lookups@example.com")
	other := createUser(t, svc, "lookups2@example.com")

	vendor, err := svc.CreateVendor(ctx, user, VendorInput{Name: "Bramble Berry", ContactEmail: "Sales@Bramble.example"})
	require.NoError(t, err)
	assert.Equal(t, "sales@bramble.example", vendor.ContactEmail)

	_, err = svc.CreateVendor(ctx, user, VendorInput{Name: "bramble berry"})
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.CreateVendor(ctx, other, VendorInput{Name: "Bramble Berry"})
	assert.NoError(t, err)
	_, err = svc.CreateVendor(ctx, user, VendorInput{Name: "Bad Mail", ContactEmail: "nope"})
	assert.True(t, apperr.IsValidation(err))

	category, err := svc.CreateCategory(ctx, user, CategoryInput{Name: "Oils"})
	require.NoError(t, err)

	material, err := svc.CreateMaterial(ctx, user, MaterialInput{Name: "Shea", CategoryID: &category.ID, VendorID: &vendor.ID, TotalCost: dec("9"), Quantity: dec("1"), Unit: "kg"})
	require.NoError(t, err)
	require.NotNil(t, material.Vendor)
	assert.Equal(t, "Bramble Berry", material.Vendor.Name)

	oils, err := svc.ListMaterials(ctx, user, MaterialFilter{CategoryID: &category.ID})
	require.NoError(t, err)
	assert.Len(t, oils, 1)
	found, err := svc.ListMaterials(ctx, user, MaterialFilter{Search: "SHE"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	require.NoError(t, svc.DeleteVendor(ctx, user, vendor.ID))
	require.NoError(t, svc.DeleteCategory(ctx, user, category.ID))
	material, err = svc.GetMaterial(ctx, user, material.ID)
	require.NoError(t, err)
	assert.Nil(t, material.VendorID)
	assert.Nil(t, material.CategoryID)

	_, err = svc.CreateMaterial(ctx, user, MaterialInput{Name: "Ghost", VendorID: &vendor.ID, TotalCost: dec("1"), Quantity: dec("1"), Unit: "kg"})
	assert.True(t, apperr.IsNotFound(err))

	dup, err := svc.DuplicateMaterial(ctx, user, material.ID)
	require.NoError(t, err)
	assert.Equal(t, "Shea (Copy)", dup.Name)
	assert.True(t, dup.UnitCost.Equal(material.UnitCost))
}
