package plans

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makercalc/internal/quota"
	"makercalc/models"
)

func TestDefaultCatalog(t *testing.T) {
	t.Parallel()

	catalog := Default()
	free := catalog.Lookup(models.PlanFree)
	assert.Equal(t, int64(25), free.MaxMaterials)
	assert.Equal(t, int64(5), free.Limits().Limit(quota.Formulations))

	enterprise := catalog.Lookup(models.PlanEnterprise).Limits()
	for _, res := range quota.Resources {
		assert.Equal(t, quota.Unlimited, enterprise.Limit(res), res)
	}

	assert.Equal(t, free, catalog.Lookup("platinum"))
	assert.Len(t, catalog.All(), len(models.PlanTiers))
}

func TestLoadOverridesSelectedFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  Starter:
    max_materials: 150
    max_vendors: -1
`), 0o600))

	catalog, err := Load(path)
	require.NoError(t, err)

	starter := catalog.Lookup(models.PlanStarter)
	assert.Equal(t, int64(150), starter.MaxMaterials)
	assert.Equal(t, quota.Unlimited, starter.MaxVendors)
	assert.Equal(t, int64(25), starter.MaxFormulations)
	assert.Equal(t, "Starter", starter.Name)
	assert.Equal(t, models.PlanStarter, starter.Tier)
}

func TestOverrideRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown tier", "plans:\n  gold:\n    max_materials: 1\n"},
		{"negative limit", "plans:\n  free:\n    max_materials: -5\n"},
		{"not yaml", "plans: [unterminated"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, Default().Override([]byte(tt.doc)))
		})
	}
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	catalog, err := Load("  ")
	require.NoError(t, err)
	assert.Equal(t, Default().All(), catalog.All())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
