package quote

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

	"github.com/assetflow/liquidation-engine/internal/config"
	"github.com/assetflow/liquidation-engine/internal/storage"
	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
)

type fakeSource struct {
	obs   Observation
	err   error
	calls int
}

func (f *fakeSource) GetPrice(context.Context, string, string) (*Observation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	obs := f.obs
	return &obs, nil
}

func goodObservation() Observation {
	return Observation{
		Price:              decimal.NewFromFloat(65000),
		Bid:                decimal.NewFromFloat(64990),
		Ask:                decimal.NewFromFloat(65010),
		Volume24h:          decimal.NewFromFloat(12000),
		AvailableLiquidity: decimal.NewFromFloat(500),
		MinTransactionSize: decimal.NewFromFloat(0.001),
		MaxTransactionSize: decimal.NewFromFloat(50),
		Confidence:         0.97,
		Source:             "aggregated",
	}
}

func testConfig() config.LiquidationConfig {
	return config.LiquidationConfig{
		QuoteValidityMinutes: 5,
		ConfidenceFloor:      0.80,
		SlippageCeilingPct:   1.5,
	}
}

func newTestService(t *testing.T, source *fakeSource, cache Cache) (*Service, *storage.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.OpenSQLite(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	return NewService(source, cache, store, testConfig(), zaptest.NewLogger(t)), store
}

func TestGetQuoteSuitable(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{obs: goodObservation()}, nil)

	snap, err := svc.GetQuote(context.Background(), "BTC", "USD", decimal.NewFromFloat(1), nil)
	require.NoError(t, err)
	assert.True(t, snap.IsSuitableForLiquidation)
	assert.Equal(t, 5, snap.ValidityMinutes)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), snap.ExpiresAt, 10*time.Second)
	assert.False(t, snap.IsUsedForLiquidation)
}

func TestGetQuoteUnsuitableLowConfidence(t *testing.T) {
	obs := goodObservation()
	obs.Confidence = 0.5
	svc, _ := newTestService(t, &fakeSource{obs: obs}, nil)

	snap, err := svc.GetQuote(context.Background(), "BTC", "USD", decimal.NewFromFloat(1), nil)
	require.NoError(t, err)
	assert.False(t, snap.IsSuitableForLiquidation)
	assert.Contains(t, snap.SuitabilityReason, "confidence")
}

func TestGetQuoteUnsuitableSlippage(t *testing.T) {
	obs := goodObservation()
	// Requesting most of the visible liquidity blows the slippage ceiling.
	obs.AvailableLiquidity = decimal.NewFromFloat(10)
	svc, _ := newTestService(t, &fakeSource{obs: obs}, nil)

	snap, err := svc.GetQuote(context.Background(), "BTC", "USD", decimal.NewFromFloat(5), nil)
	require.NoError(t, err)
	assert.False(t, snap.IsSuitableForLiquidation)
	assert.Contains(t, snap.SuitabilityReason, "slippage")
}

func TestGetQuoteUnsuitableSize(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{obs: goodObservation()}, nil)

	snap, err := svc.GetQuote(context.Background(), "BTC", "USD", decimal.NewFromFloat(0.0001), nil)
	require.NoError(t, err)
	assert.False(t, snap.IsSuitableForLiquidation)
	assert.Contains(t, snap.SuitabilityReason, "minimum transaction size")
}

func TestGetQuoteSourceFailureIsRetryable(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{err: fmt.Errorf("connection refused")}, nil)

	_, err := svc.GetQuote(context.Background(), "BTC", "USD", decimal.NewFromFloat(1), nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTimeout, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestConsumeQuoteOnlyOnce(t *testing.T) {
	svc, _ := newTestService(t, &fakeSource{obs: goodObservation()}, nil)
	ctx := context.Background()

	snap, err := svc.GetQuote(ctx, "BTC", "USD", decimal.NewFromFloat(1), nil)
	require.NoError(t, err)

	require.NoError(t, svc.ConsumeQuote(ctx, snap.ID, uuid.New()))

	err = svc.ConsumeQuote(ctx, snap.ID, uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePriceExpiredOrConsumed, apperrors.CodeOf(err))
}

func TestRefreshIfStaleKeepsFreshSnapshot(t *testing.T) {
	source := &fakeSource{obs: goodObservation()}
	svc, _ := newTestService(t, source, nil)
	ctx := context.Background()

	snap, err := svc.GetQuote(ctx, "BTC", "USD", decimal.NewFromFloat(1), nil)
	require.NoError(t, err)
	callsAfterQuote := source.calls

	same, err := svc.RefreshIfStale(ctx, snap, decimal.NewFromFloat(1))
	require.NoError(t, err)
	assert.Equal(t, snap.ID, same.ID)
	assert.Equal(t, callsAfterQuote, source.calls)
}

func TestRefreshIfStaleRequotesExpired(t *testing.T) {
	source := &fakeSource{obs: goodObservation()}
	svc, _ := newTestService(t, source, nil)
	ctx := context.Background()

	snap, err := svc.GetQuote(ctx, "BTC", "USD", decimal.NewFromFloat(1), nil)
	require.NoError(t, err)

	// Force expiry.
	snap.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	fresh, err := svc.RefreshIfStale(ctx, snap, decimal.NewFromFloat(1))
	require.NoError(t, err)
	assert.NotEqual(t, snap.ID, fresh.ID)
	assert.True(t, fresh.IsSuitableForLiquidation)
}

func TestObserveUsesCacheWithinWindow(t *testing.T) {
	source := &fakeSource{obs: goodObservation()}
	svc, _ := newTestService(t, source, NewMemoryCache())
	ctx := context.Background()

	_, err := svc.GetQuote(ctx, "BTC", "USD", decimal.NewFromFloat(1), nil)
	require.NoError(t, err)
	_, err = svc.GetQuote(ctx, "BTC", "USD", decimal.NewFromFloat(2), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
}
