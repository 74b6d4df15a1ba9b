package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := OpenSQLite(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	return store
}

func newTestRequest() *models.LiquidationRequest {
	return &models.LiquidationRequest{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		IdempotencyKey:     uuid.NewString(),
		AssetSymbol:        "BTC",
		Amount:             decimal.NewFromFloat(1.0),
		OutputType:         models.OutputTypeFiat,
		OutputSymbol:       "USD",
		DestinationType:    models.DestinationTypeBankAccount,
		DestinationAddress: "DE89370400440532013000",
		DestinationCountry: "DE",
		Status:             models.LiquidationStatusPending,
		RiskLevel:          models.RiskLevelLow,
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestCreateRequestIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := newTestRequest()
	first, created, err := store.CreateRequest(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)

	replay := newTestRequest()
	replay.IdempotencyKey = req.IdempotencyKey
	second, created, err := store.CreateRequest(ctx, replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetRequestByIdempotencyKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := newTestRequest()
	_, _, err := store.CreateRequest(ctx, req)
	require.NoError(t, err)

	found, err := store.GetRequestByIdempotencyKey(ctx, req.IdempotencyKey)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, req.ID, found.ID)

	missing, err := store.GetRequestByIdempotencyKey(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransitionRequestConditional(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	req := newTestRequest()
	_, _, err := store.CreateRequest(ctx, req)
	require.NoError(t, err)

	err = store.TransitionRequest(ctx, req.ID,
		models.LiquidationStatusPending, models.LiquidationStatusKycVerificationInProgress, "workflow started")
	require.NoError(t, err)

	// A second transition from the stale status must lose.
	err = store.TransitionRequest(ctx, req.ID,
		models.LiquidationStatusPending, models.LiquidationStatusCancelled, "user cancelled")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LiquidationStatusKycVerificationInProgress, got.Status)
}

func TestReserveLiquidityNeverOverdraws(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	provider := &models.LiquidityProvider{
		ID:                       uuid.New(),
		Name:                     "alpha-liquidity",
		Status:                   models.ProviderStatusActive,
		IsAvailable:              true,
		SupportedAssets:          models.StringList{"BTC"},
		SupportedCurrencies:      models.StringList{"USD"},
		MinimumTransactionAmount: decimal.NewFromFloat(0.01),
		MaximumTransactionAmount: decimal.NewFromFloat(100),
		AvailableLiquidity:       decimal.NewFromFloat(1.5),
		FeePercentage:            decimal.NewFromFloat(0.3),
	}
	require.NoError(t, store.CreateProvider(ctx, provider))

	// Only one of two 1.0 BTC reservations can win against 1.5 available.
	var wg sync.WaitGroup
	wins := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ReserveLiquidity(ctx, provider.ID, decimal.NewFromFloat(1.0))
			require.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)

	got, err := store.GetProvider(ctx, provider.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableLiquidity.Equal(decimal.NewFromFloat(0.5)))
	assert.True(t, got.AvailableLiquidity.GreaterThanOrEqual(decimal.Zero))
}

func TestConsumeSnapshotExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	snap := &models.MarketPriceSnapshot{
		ID:           uuid.New(),
		AssetSymbol:  "BTC",
		OutputSymbol: "USD",
		Price:        decimal.NewFromFloat(65000),
		ExpiresAt:    now.Add(5 * time.Minute),
		CreatedAt:    now,
	}
	require.NoError(t, store.CreateSnapshot(ctx, snap))

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.ConsumeSnapshot(ctx, snap.ID, uuid.New(), now)
		}()
	}
	wg.Wait()
	close(errs)

	consumed, rejected := 0, 0
	for err := range errs {
		if err == nil {
			consumed++
		} else {
			assert.Equal(t, apperrors.CodePriceExpiredOrConsumed, apperrors.CodeOf(err))
			rejected++
		}
	}
	assert.Equal(t, 1, consumed)
	assert.Equal(t, 3, rejected)
}

func TestConsumeSnapshotExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	snap := &models.MarketPriceSnapshot{
		ID:           uuid.New(),
		AssetSymbol:  "ETH",
		OutputSymbol: "USDT",
		Price:        decimal.NewFromFloat(3200),
		ExpiresAt:    now.Add(-time.Minute),
		CreatedAt:    now.Add(-10 * time.Minute),
	}
	require.NoError(t, store.CreateSnapshot(ctx, snap))

	err := store.ConsumeSnapshot(ctx, snap.ID, uuid.New(), now)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodePriceExpiredOrConsumed, apperrors.CodeOf(err))
}

func TestMarkTransactionReversedWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	until := now.Add(15 * time.Minute)
	tx := &models.LiquidationTransaction{
		ID:              uuid.New(),
		RequestID:       uuid.New(),
		ProviderID:      uuid.New(),
		SnapshotID:      uuid.New(),
		Status:          models.TransactionStatusCompleted,
		IsReversible:    true,
		ReversibleUntil: &until,
		CreatedAt:       now,
	}
	require.NoError(t, store.CreateTransaction(ctx, tx))

	require.NoError(t, store.MarkTransactionReversed(ctx, tx.ID, "operator correction", now))

	// Second reversal must be refused.
	err := store.MarkTransactionReversed(ctx, tx.ID, "again", now)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeReversalRejected, apperrors.CodeOf(err))

	// A transaction past its window must be refused.
	expiredUntil := now.Add(-time.Minute)
	late := &models.LiquidationTransaction{
		ID:              uuid.New(),
		RequestID:       uuid.New(),
		ProviderID:      uuid.New(),
		SnapshotID:      uuid.New(),
		Status:          models.TransactionStatusCompleted,
		IsReversible:    true,
		ReversibleUntil: &expiredUntil,
		CreatedAt:       now,
	}
	require.NoError(t, store.CreateTransaction(ctx, late))
	err = store.MarkTransactionReversed(ctx, late.ID, "too late", now)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeReversalRejected, apperrors.CodeOf(err))
}
