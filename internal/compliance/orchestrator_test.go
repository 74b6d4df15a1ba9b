package compliance

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

	"github.com/assetflow/liquidation-engine/internal/config"
	"github.com/assetflow/liquidation-engine/internal/storage"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// fakeProvider scripts per-type verdicts and transient failure counts.
type fakeProvider struct {
	mu        sync.Mutex
	results   map[models.CheckType]Result
	failFirst map[models.CheckType]int
	calls     map[models.CheckType]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		results:   make(map[models.CheckType]Result),
		failFirst: make(map[models.CheckType]int),
		calls:     make(map[models.CheckType]int),
	}
}

func (f *fakeProvider) RunCheck(_ context.Context, t models.CheckType, _ Subject) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[t]++
	if f.failFirst[t] > 0 {
		f.failFirst[t]--
		return nil, fmt.Errorf("provider unavailable")
	}
	res, ok := f.results[t]
	if !ok {
		res = Result{Result: models.CheckResultPassed, RiskLevel: models.RiskLevelLow}
	}
	return &res, nil
}

func testCfg() config.LiquidationConfig {
	return config.LiquidationConfig{
		CheckMaxRetries:          3,
		CheckTimeout:             time.Second,
		CheckBackoffBase:         time.Millisecond,
		SanctionsAmountThreshold: 10000,
	}
}

func newTestOrchestrator(t *testing.T, provider CheckProvider) (*Orchestrator, *storage.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.OpenSQLite(dsn, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate())
	return NewOrchestrator(store, NewProviderCheckers(provider), testCfg(), zaptest.NewLogger(t)), store
}

func smallRequest() *models.LiquidationRequest {
	return &models.LiquidationRequest{
		ID:                    uuid.New(),
		UserID:                uuid.New(),
		AssetSymbol:           "BTC",
		Amount:                decimal.NewFromFloat(0.1),
		OutputSymbol:          "USD",
		EstimatedOutputAmount: decimal.NewFromFloat(6500),
		DestinationType:       models.DestinationTypeBankAccount,
		RiskLevel:             models.RiskLevelLow,
	}
}

func TestMandatoryCheckTypes(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeProvider())

	req := smallRequest()
	types := orch.MandatoryCheckTypes(req)
	assert.ElementsMatch(t, []models.CheckType{models.CheckTypeKYC, models.CheckTypeAML}, types)

	req.EstimatedOutputAmount = decimal.NewFromFloat(50000)
	types = orch.MandatoryCheckTypes(req)
	assert.Contains(t, types, models.CheckTypeSanctions)
	assert.Contains(t, types, models.CheckTypePEP)

	req.DestinationType = models.DestinationTypeWallet
	types = orch.MandatoryCheckTypes(req)
	assert.Contains(t, types, models.CheckTypeIllicitAddress)

	req.RiskLevel = models.RiskLevelHigh
	types = orch.MandatoryCheckTypes(req)
	assert.Contains(t, types, models.CheckTypeRiskAssessment)
}

func TestRunChecksAllPassed(t *testing.T) {
	orch, store := newTestOrchestrator(t, newFakeProvider())
	req := smallRequest()

	out, err := orch.RunChecks(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, out.Decision)

	checks, err := store.ListChecksByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, checks, 2)
	for _, c := range checks {
		assert.Equal(t, models.CheckResultPassed, c.Result)
		assert.NotNil(t, c.CompletedAt)
	}
}

func TestRunChecksFailureRejects(t *testing.T) {
	provider := newFakeProvider()
	provider.results[models.CheckTypeAML] = Result{
		Result:    models.CheckResultFailed,
		RiskScore: 0.95,
		RiskLevel: models.RiskLevelCritical,
		Detail:    "structuring pattern detected",
	}
	orch, _ := newTestOrchestrator(t, provider)

	out, err := orch.RunChecks(context.Background(), smallRequest())
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, out.Decision)
	assert.Equal(t, models.RiskLevelCritical, out.RiskLevel)
}

func TestRunChecksReviewHolds(t *testing.T) {
	provider := newFakeProvider()
	provider.results[models.CheckTypeAML] = Result{
		Result:    models.CheckResultRequiresReview,
		RiskLevel: models.RiskLevelMedium,
		Detail:    "velocity anomaly",
	}
	orch, _ := newTestOrchestrator(t, provider)

	out, err := orch.RunChecks(context.Background(), smallRequest())
	require.NoError(t, err)
	assert.Equal(t, DecisionRequiresReview, out.Decision)
}

func TestRunChecksTransientFailureRetried(t *testing.T) {
	provider := newFakeProvider()
	provider.failFirst[models.CheckTypeKYC] = 2
	orch, store := newTestOrchestrator(t, provider)
	req := smallRequest()

	out, err := orch.RunChecks(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, out.Decision)
	assert.Equal(t, 3, provider.calls[models.CheckTypeKYC])

	checks, err := store.ListChecksByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	for _, c := range checks {
		if c.Type == models.CheckTypeKYC {
			assert.Equal(t, 2, c.RetryAttempts)
			assert.Equal(t, models.CheckResultPassed, c.Result)
		}
	}
}

func TestRunChecksRetriesExhaustedFails(t *testing.T) {
	provider := newFakeProvider()
	provider.failFirst[models.CheckTypeAML] = 10
	orch, store := newTestOrchestrator(t, provider)
	req := smallRequest()

	out, err := orch.RunChecks(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, out.Decision)

	checks, err := store.ListChecksByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	for _, c := range checks {
		if c.Type == models.CheckTypeAML {
			assert.Equal(t, models.CheckResultFailed, c.Result)
			assert.Equal(t, "provider unavailable", c.LastError)
			assert.Equal(t, 3, c.RetryAttempts)
		}
	}
}

func TestOverrideReaggregates(t *testing.T) {
	provider := newFakeProvider()
	provider.results[models.CheckTypeAML] = Result{
		Result:    models.CheckResultRequiresReview,
		RiskLevel: models.RiskLevelMedium,
	}
	orch, store := newTestOrchestrator(t, provider)
	req := smallRequest()

	out, err := orch.RunChecks(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, DecisionRequiresReview, out.Decision)

	checks, err := store.ListChecksByRequest(context.Background(), req.ID)
	require.NoError(t, err)
	var amlID uuid.UUID
	for _, c := range checks {
		if c.Type == models.CheckTypeAML {
			amlID = c.ID
		}
	}

	reviewer := uuid.New()
	out, check, err := orch.Override(context.Background(), amlID, reviewer, models.CheckResultPassed, "documents verified out of band")
	require.NoError(t, err)
	assert.Equal(t, DecisionApproved, out.Decision)
	assert.True(t, check.IsOverridden)
	assert.Equal(t, models.CheckResultRequiresReview, check.OriginalResult)
	assert.Equal(t, &reviewer, check.OverriddenBy)
}

func TestOverrideValidatesResult(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newFakeProvider())
	_, _, err := orch.Override(context.Background(), uuid.New(), uuid.New(), models.CheckResultPending, "nope")
	require.Error(t, err)
}
