package eligibility

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/assetflow/liquidation-engine/internal/storage"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

type fakeUsage struct {
	daily     decimal.Decimal
	monthly   decimal.Decimal
	lastAt    *time.Time
	heldSince *time.Time
}

func (f *fakeUsage) DailyTotal(context.Context, uuid.UUID, string) (decimal.Decimal, error) {
	return f.daily, nil
}
func (f *fakeUsage) MonthlyTotal(context.Context, uuid.UUID, string) (decimal.Decimal, error) {
	return f.monthly, nil
}
func (f *fakeUsage) LastLiquidationAt(context.Context, uuid.UUID, string) (*time.Time, error) {
	return f.lastAt, nil
}
func (f *fakeUsage) HeldSince(context.Context, uuid.UUID, string) (*time.Time, error) {
	return f.heldSince, nil
}

func newTestRegistry(t *testing.T, usage *fakeUsage, rules ...*models.AssetRule) *Registry {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.OpenSQLite(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	for _, rule := range rules {
		require.NoError(t, store.UpsertAssetRule(context.Background(), rule))
	}
	return NewRegistry(store, usage, zaptest.NewLogger(t))
}

func baseRule() *models.AssetRule {
	return &models.AssetRule{
		AssetSymbol:              "BTC",
		Status:                   models.AssetStatusEligible,
		MinimumLiquidationAmount: decimal.NewFromFloat(0.001),
		MaximumLiquidationAmount: decimal.NewFromFloat(10),
		DailyLimit:               decimal.NewFromFloat(5),
		MonthlyLimit:             decimal.NewFromFloat(20),
		MinimumHoldingPeriodDays: 7,
		CoolingOffPeriodHours:    1,
		MultiSignatureThreshold:  decimal.NewFromFloat(2),
	}
}

func healthyUsage() *fakeUsage {
	held := time.Now().UTC().Add(-30 * 24 * time.Hour)
	return &fakeUsage{
		daily:     decimal.Zero,
		monthly:   decimal.Zero,
		heldSince: &held,
	}
}

func TestCheckEligibilityHappyPath(t *testing.T) {
	reg := newTestRegistry(t, healthyUsage(), baseRule())

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1.0), "DE")
	require.NoError(t, err)
	assert.True(t, d.Eligible)
	assert.False(t, d.RequiresMultiSignature)
}

func TestCheckEligibilityMultiSignatureThreshold(t *testing.T) {
	reg := newTestRegistry(t, healthyUsage(), baseRule())

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(3.0), "DE")
	require.NoError(t, err)
	assert.True(t, d.Eligible)
	assert.True(t, d.RequiresMultiSignature)
}

func TestCheckEligibilityUnknownAsset(t *testing.T) {
	reg := newTestRegistry(t, healthyUsage())

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "DOGE", decimal.NewFromFloat(1), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "not enabled")
}

func TestCheckEligibilityRestrictedJurisdiction(t *testing.T) {
	rule := baseRule()
	rule.RestrictedCountries = models.StringList{"KP", "IR"}
	reg := newTestRegistry(t, healthyUsage(), rule)

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1), "KP")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "KP")
	assert.Contains(t, d.Reason, "restricted")
}

func TestCheckEligibilityRestrictedAssetAllowList(t *testing.T) {
	rule := baseRule()
	rule.Status = models.AssetStatusRestricted
	rule.AllowedCountries = models.StringList{"CH"}
	reg := newTestRegistry(t, healthyUsage(), rule)

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1), "CH")
	require.NoError(t, err)
	assert.True(t, d.Eligible)

	d, err = reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "allow-list")
}

func TestCheckEligibilityAmountBounds(t *testing.T) {
	reg := newTestRegistry(t, healthyUsage(), baseRule())

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(0.0001), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "below the minimum")

	d, err = reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(11), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "exceeds the maximum")
}

func TestCheckEligibilityRollingLimits(t *testing.T) {
	usage := healthyUsage()
	usage.daily = decimal.NewFromFloat(4.5)
	reg := newTestRegistry(t, usage, baseRule())

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1.0), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "daily liquidation limit")

	usage.daily = decimal.Zero
	usage.monthly = decimal.NewFromFloat(19.5)
	d, err = reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1.0), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "monthly liquidation limit")
}

func TestCheckEligibilityHoldingAndCoolingOff(t *testing.T) {
	usage := healthyUsage()
	recent := time.Now().UTC().Add(-time.Hour)
	usage.heldSince = &recent
	reg := newTestRegistry(t, usage, baseRule())

	d, err := reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1.0), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "holding period")

	usage = healthyUsage()
	justNow := time.Now().UTC().Add(-10 * time.Minute)
	usage.lastAt = &justNow
	reg = newTestRegistry(t, usage, baseRule())

	d, err = reg.CheckEligibility(context.Background(), uuid.New(), "BTC", decimal.NewFromFloat(1.0), "DE")
	require.NoError(t, err)
	assert.False(t, d.Eligible)
	assert.Contains(t, d.Reason, "cooling-off")
}
