package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"makercalc/internal/apperr"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func items(n int) []Item {
	out := make([]Item, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, Item{ID: uint(i), CreatedAt: epoch.Add(time.Duration(i) * time.Hour)})
	}
	return out
}

func TestBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		usage     int64
		limit     int64
		over      bool
		canCreate bool
	}{
		{"below limit", 4, 5, false, true},
		{"at limit", 5, 5, false, false},
		{"over limit", 6, 5, true, false},
		{"unlimited", 1000, Unlimited, false, true},
		{"zero limit", 0, 0, false, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.over, IsOverLimit(tt.usage, tt.limit))
			assert.Equal(t, tt.canCreate, CanCreate(tt.usage, tt.limit))
		})
	}
}

func TestSixMaterialsOnFiveLimitLocksTheNewest(t *testing.T) {
	t.Parallel()

	status := Evaluate(Limits{Materials: 5}, Snapshot{Materials: items(6)})
	rs := status.Resource(Materials)

	assert.True(t, status.SoftLocked)
	assert.True(t, rs.IsOverLimit)
	assert.False(t, rs.CanCreate)
	assert.Equal(t, int64(6), rs.Usage)
	assert.Equal(t, []uint{6}, rs.ReadOnlyIDs)

	err := CheckCreate(Materials, rs.Usage, rs.Limit)
	var quotaErr *apperr.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, "materials", quotaErr.Resource)
	assert.Equal(t, int64(6), quotaErr.Usage)
	assert.Equal(t, int64(5), quotaErr.Limit)

	assert.True(t, apperr.IsReadOnly(CheckWritable(rs, 6)))
	assert.NoError(t, CheckWritable(rs, 1))
}

func TestOrderingIsByCreationThenID(t *testing.T) {
	t.Parallel()

	same := epoch
	input := []Item{
		{ID: 9, CreatedAt: same},
		{ID: 3, CreatedAt: same.Add(time.Minute)},
		{ID: 4, CreatedAt: same},
	}
	rs := EvaluateResource(Vendors, 1, input)
	assert.Equal(t, []uint{9, 3}, rs.ReadOnlyIDs)

	rs = EvaluateResource(Vendors, 2, input)
	assert.Equal(t, []uint{3}, rs.ReadOnlyIDs)
}

func TestStorageLocksByCumulativeBytes(t *testing.T) {
	t.Parallel()

	files := []Item{
		{ID: 1, CreatedAt: epoch, Size: 40},
		{ID: 2, CreatedAt: epoch.Add(time.Second), Size: 50},
		{ID: 3, CreatedAt: epoch.Add(2 * time.Second), Size: 20},
	}
	rs := EvaluateResource(Storage, 100, files)
	assert.Equal(t, int64(110), rs.Usage)
	assert.True(t, rs.IsOverLimit)
	assert.Equal(t, []uint{3}, rs.ReadOnlyIDs)

	assert.NoError(t, CheckStorage(90, 10, 100))
	assert.True(t, apperr.IsQuotaExceeded(CheckStorage(90, 11, 100)))
	assert.NoError(t, CheckStorage(1<<40, 1, Unlimited))
}

func TestMissingLimitsAreUnlimited(t *testing.T) {
	t.Parallel()

	status := Evaluate(Limits{}, Snapshot{Formulations: items(50)})
	rs := status.Resource(Formulations)
	assert.True(t, rs.Unlimited)
	assert.True(t, rs.CanCreate)
	assert.Empty(t, rs.ReadOnlyIDs)
	assert.False(t, status.SoftLocked)
	assert.Len(t, status.Resources, len(Resources))
}
