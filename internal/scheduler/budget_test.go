package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckBudget_DeniesAtCap(t *testing.T) {
	v := CheckBudget(RenderCounts{Tenant: 100, Global: 500}, 100, 10000)
	assert.False(t, v.Allowed)
	assert.Equal(t, "tenant monthly render cap exceeded", v.Reason)
}

func TestCheckBudget_WarnsAt80Percent(t *testing.T) {
	v := CheckBudget(RenderCounts{Tenant: 80, Global: 500}, 100, 10000)
	assert.True(t, v.Allowed)
	assert.NotEmpty(t, v.Warning)
}

func TestCheckBudget_NoWarningBelowThreshold(t *testing.T) {
	v := CheckBudget(RenderCounts{Tenant: 79, Global: 500}, 100, 10000)
	assert.True(t, v.Allowed)
	assert.Empty(t, v.Warning)
}

func TestBudgetTracker_RolloverResetsCounters(t *testing.T) {
	tr := NewBudgetTracker(100, 10)
	jan := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tr.RecordRender("oem-a", jan)
	tr.RecordRender("oem-a", jan)
	assert.Equal(t, 2, tr.Counts("oem-a", jan).Tenant)

	assert.Equal(t, 0, tr.Counts("oem-a", feb).Tenant, "new month must reset the counter")
}

func TestBudgetTracker_TracksPerTenantIndependently(t *testing.T) {
	tr := NewBudgetTracker(100, 10)
	now := time.Now()
	tr.RecordRender("oem-a", now)
	tr.RecordRender("oem-b", now)
	tr.RecordRender("oem-b", now)

	assert.Equal(t, 1, tr.Counts("oem-a", now).Tenant)
	assert.Equal(t, 2, tr.Counts("oem-b", now).Tenant)
	assert.Equal(t, 3, tr.Counts("oem-a", now).Global)
}
