package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/assetflow/liquidation-engine/internal/compliance"
	"github.com/assetflow/liquidation-engine/internal/config"
	"github.com/assetflow/liquidation-engine/internal/eligibility"
	"github.com/assetflow/liquidation-engine/internal/executor"
	"github.com/assetflow/liquidation-engine/internal/liquidation"
	"github.com/assetflow/liquidation-engine/internal/liquidity"
	"github.com/assetflow/liquidation-engine/internal/quote"
	"github.com/assetflow/liquidation-engine/internal/storage"
	"github.com/assetflow/liquidation-engine/pkg/metrics"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

type stubSource struct{}

func (stubSource) GetPrice(ctx context.Context, assetSymbol, outputSymbol string) (*quote.Observation, error) {
	return &quote.Observation{
		Price:              decimal.NewFromFloat(100),
		Bid:                decimal.NewFromFloat(99.9),
		Ask:                decimal.NewFromFloat(100.1),
		AvailableLiquidity: decimal.NewFromFloat(1000000),
		MinTransactionSize: decimal.NewFromFloat(0.001),
		MaxTransactionSize: decimal.NewFromFloat(100000),
		Confidence:         0.95,
		Source:             "stub",
	}, nil
}

type stubChecks struct{}

func (stubChecks) RunCheck(ctx context.Context, checkType models.CheckType, subject compliance.Subject) (*compliance.Result, error) {
	return &compliance.Result{Result: models.CheckResultPassed, RiskLevel: models.RiskLevelLow}, nil
}

type stubRail struct{}

func (stubRail) Transfer(ctx context.Context, req executor.TransferRequest) (*executor.TransferReceipt, error) {
	return &executor.TransferReceipt{Reference: "rail-1", Confirmations: 3}, nil
}
func (stubRail) Reverse(ctx context.Context, reference string) error { return nil }
func (stubRail) EstimateNetworkFee(ctx context.Context, currency string) (decimal.Decimal, error) {
	return decimal.NewFromFloat(0.5), nil
}

type stubKYC struct{}

func (stubKYC) IsVerified(ctx context.Context, userID uuid.UUID) (bool, int, error) {
	return true, 3, nil
}

type stubBalance struct{}

func (stubBalance) HasBalance(ctx context.Context, userID uuid.UUID, assetSymbol string, amount decimal.Decimal) (bool, error) {
	return true, nil
}

type stubUsage struct{}

func (stubUsage) DailyTotal(ctx context.Context, userID uuid.UUID, assetSymbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (stubUsage) MonthlyTotal(ctx context.Context, userID uuid.UUID, assetSymbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (stubUsage) LastLiquidationAt(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error) {
	return nil, nil
}
func (stubUsage) HeldSince(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error) {
	since := time.Now().UTC().Add(-90 * 24 * time.Hour)
	return &since, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.OpenSQLite(dsn, logger)
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())

	cfg := config.LiquidationConfig{
		QuoteValidityMinutes:     5,
		ConfidenceFloor:          0.80,
		SlippageCeilingPct:       1.5,
		CheckMaxRetries:          3,
		CheckTimeout:             time.Second,
		CheckBackoffBase:         time.Millisecond,
		SanctionsAmountThreshold: 10000,
		ExecutionMaxRetries:      3,
		ExecutionBackoffBase:     time.Millisecond,
		PlatformFeePct:           0.25,
		ReversalWindow:           15 * time.Minute,
		RequestTTL:               24 * time.Hour,
	}

	require.NoError(t, store.UpsertAssetRule(context.Background(), &models.AssetRule{
		AssetSymbol:              "BTC",
		Status:                   models.AssetStatusEligible,
		MinimumLiquidationAmount: decimal.NewFromFloat(0.001),
		MaximumLiquidationAmount: decimal.NewFromFloat(1000),
		DailyLimit:               decimal.NewFromFloat(1000000),
		MonthlyLimit:             decimal.NewFromFloat(10000000),
		MultiSignatureThreshold:  decimal.NewFromFloat(100000),
		RequiredKYCTier:          2,
	}))

	quotes := quote.NewService(stubSource{}, quote.NewMemoryCache(), store, cfg, logger)
	comp := compliance.NewOrchestrator(store, compliance.NewProviderCheckers(stubChecks{}), cfg, logger)
	matcher := liquidity.NewMatcher(store, nil, logger)
	exec := executor.New(store, stubRail{}, cfg, logger)
	registry := eligibility.NewRegistry(store, stubUsage{}, logger)
	svc := liquidation.NewService(store, registry, quotes, comp, matcher, exec,
		stubKYC{}, stubBalance{}, nil, cfg, logger)
	providers := liquidity.NewProviderService(store, logger)

	return NewHandler(svc, providers, logger).Router(), store
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateLiquidationAccepted(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/liquidations", gin.H{
		"asset_symbol":        "BTC",
		"amount":              "0.5",
		"output_type":         "fiat",
		"output_symbol":       "USD",
		"destination_type":    "bank_account",
		"destination_address": "DE89370400440532013000",
		"destination_country": "DE",
	}, uuid.NewString())

	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp models.LiquidationRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Equal(t, "BTC", resp.AssetSymbol)
}

func TestCreateLiquidationRequiresUserHeader(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/liquidations", gin.H{}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateLiquidationValidatesBody(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/liquidations", gin.H{
		"asset_symbol":        "BTC",
		"amount":              "not-a-number",
		"output_type":         "fiat",
		"output_symbol":       "USD",
		"destination_type":    "bank_account",
		"destination_address": "x",
	}, uuid.NewString())
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/liquidations", gin.H{
		"asset_symbol":        "BTC",
		"amount":              "1",
		"output_type":         "barter",
		"output_symbol":       "USD",
		"destination_type":    "bank_account",
		"destination_address": "x",
	}, uuid.NewString())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetLiquidationNotFound(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/liquidations/"+uuid.NewString(), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/liquidations/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProviderLifecycleOverHTTP(t *testing.T) {
	r, store := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/providers", gin.H{
		"name":                       "FastLiquid",
		"supported_assets":           []string{"BTC"},
		"supported_currencies":       []string{"USD"},
		"minimum_transaction_amount": "0.001",
		"maximum_transaction_amount": "1000",
		"fee_percentage":             "0.1",
		"available_liquidity":        "5000",
		"rating":                     4.2,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var p models.LiquidityProvider
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, models.ProviderStatusPending, p.Status)

	w = doJSON(t, r, http.MethodPost, "/api/v1/providers/"+p.ID.String()+"/approve", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	got, err := store.GetProvider(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderStatusActive, got.Status)
	assert.True(t, got.IsAvailable)

	// Approving twice conflicts.
	w = doJSON(t, r, http.MethodPost, "/api/v1/providers/"+p.ID.String()+"/approve", nil, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, r, http.MethodPut, "/api/v1/providers/"+p.ID.String()+"/availability",
		gin.H{"available": false}, "")
	require.Equal(t, http.StatusOK, w.Code)
	got, err = store.GetProvider(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, got.IsAvailable)
}

func TestCancelCompletedLiquidationConflicts(t *testing.T) {
	r, store := newTestRouter(t)

	req := &models.LiquidationRequest{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		IdempotencyKey:     uuid.NewString(),
		AssetSymbol:        "BTC",
		Amount:             decimal.NewFromFloat(1),
		OutputType:         models.OutputTypeFiat,
		OutputSymbol:       "USD",
		DestinationType:    models.DestinationTypeBankAccount,
		DestinationAddress: "DE89370400440532013000",
		Status:             models.LiquidationStatusCompleted,
		ExpiresAt:          time.Now().UTC().Add(time.Hour),
	}
	_, _, err := store.CreateRequest(context.Background(), req)
	require.NoError(t, err)

	w := doJSON(t, r, http.MethodPost, "/api/v1/liquidations/"+req.ID.String()+"/cancel",
		gin.H{"reason": "too late"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	metrics.QuotesIssued.WithLabelValues("true").Inc()
	w = doJSON(t, r, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "liquidation_quotes_issued_total")
}
