// Package compliance orchestrates the typed regulatory screenings gating a
// liquidation: it determines the mandatory check set for a request, runs the
// checks concurrently with bounded retry, aggregates their results, and
// records manual review overrides.
package compliance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/config"
	"github.com/assetflow/liquidation-engine/internal/storage"
	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/metrics"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// Decision is the aggregated compliance outcome for a request.
type Decision string

const (
	DecisionApproved       Decision = "approved"
	DecisionRejected       Decision = "rejected"
	DecisionRequiresReview Decision = "requires_review"
)

// Outcome carries the aggregated verdict and the highest risk level observed.
type Outcome struct {
	Decision  Decision
	RiskLevel models.RiskLevel
	Detail    string
}

// Orchestrator owns ComplianceCheck records; nothing else writes them.
type Orchestrator struct {
	store    *storage.Store
	checkers map[models.CheckType]Checker
	cfg      config.LiquidationConfig
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator builds the compliance orchestrator over a checker table.
func NewOrchestrator(store *storage.Store, checkers map[models.CheckType]Checker, cfg config.LiquidationConfig, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		checkers: checkers,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MandatoryCheckTypes computes the check set for a request: KYC and AML
// always; sanctions and PEP above the amount threshold; illicit-address
// screening for wallet destinations; a full risk assessment for requests
// already rated high or critical.
func (o *Orchestrator) MandatoryCheckTypes(req *models.LiquidationRequest) []models.CheckType {
	types := []models.CheckType{models.CheckTypeKYC, models.CheckTypeAML}

	threshold := decimal.NewFromFloat(o.cfg.SanctionsAmountThreshold)
	if req.EstimatedOutputAmount.GreaterThanOrEqual(threshold) {
		types = append(types, models.CheckTypeSanctions, models.CheckTypePEP)
	}
	if req.DestinationType == models.DestinationTypeWallet {
		types = append(types, models.CheckTypeIllicitAddress)
	}
	if req.RiskLevel == models.RiskLevelHigh || req.RiskLevel == models.RiskLevelCritical {
		types = append(types, models.CheckTypeRiskAssessment)
	}
	return types
}

// RunChecks executes the mandatory set concurrently and aggregates. Every
// check reaches a persisted terminal state before aggregation: transient
// provider failures (including per-check timeouts) are retried with
// exponential backoff, and a check exhausting its retry budget is recorded
// Failed with the last error preserved.
func (o *Orchestrator) RunChecks(ctx context.Context, req *models.LiquidationRequest) (Outcome, error) {
	subject := Subject{
		RequestID:          req.ID,
		UserID:             req.UserID,
		AssetSymbol:        req.AssetSymbol,
		Amount:             req.Amount,
		OutputSymbol:       req.OutputSymbol,
		EstimatedOutput:    req.EstimatedOutputAmount,
		DestinationType:    req.DestinationType,
		DestinationAddress: req.DestinationAddress,
		DestinationCountry: req.DestinationCountry,
		RiskLevel:          req.RiskLevel,
	}

	now := o.now()
	var checks []*models.ComplianceCheck
	for _, t := range o.MandatoryCheckTypes(req) {
		checks = append(checks, &models.ComplianceCheck{
			ID:         uuid.New(),
			RequestID:  req.ID,
			Type:       t,
			Result:     models.CheckResultPending,
			MaxRetries: o.cfg.CheckMaxRetries,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err := o.store.CreateChecks(ctx, checks); err != nil {
		return Outcome{}, err
	}

	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(check *models.ComplianceCheck) {
			defer wg.Done()
			o.runCheck(ctx, check, subject)
		}(check)
	}
	wg.Wait()

	stored := make([]models.ComplianceCheck, 0, len(checks))
	for _, c := range checks {
		stored = append(stored, *c)
	}
	return Aggregate(stored), nil
}

// runCheck drives a single check to a terminal or requires-review state.
func (o *Orchestrator) runCheck(ctx context.Context, check *models.ComplianceCheck, subject Subject) {
	checker, ok := o.checkers[check.Type]
	if !ok {
		// No engine registered for the type; skip rather than block forever.
		check.Result = models.CheckResultSkipped
		check.Detail = "no checker registered"
		o.finishCheck(ctx, check)
		return
	}

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.CheckTimeout)
		res, err := checker.Run(attemptCtx, subject)
		cancel()

		if err == nil {
			check.Result = res.Result
			check.RiskScore = res.RiskScore
			check.RiskLevel = res.RiskLevel
			check.Detail = res.Detail
			check.NextRetryAt = nil
			o.finishCheck(ctx, check)
			return
		}

		// Transient failure, including a timed-out attempt.
		check.RetryAttempts++
		check.LastError = err.Error()
		if check.RetryAttempts >= check.MaxRetries {
			check.Result = models.CheckResultFailed
			check.Detail = "retries exhausted"
			check.NextRetryAt = nil
			o.finishCheck(ctx, check)
			return
		}

		backoff := o.cfg.CheckBackoffBase << (check.RetryAttempts - 1)
		next := o.now().Add(backoff)
		check.NextRetryAt = &next
		if err := o.store.SaveCheck(ctx, check); err != nil {
			o.logger.Error("persist check retry state", zap.Error(err))
		}
		o.logger.Warn("compliance check attempt failed, retrying",
			zap.String("check_id", check.ID.String()),
			zap.String("type", string(check.Type)),
			zap.Int("attempt", check.RetryAttempts),
			zap.Duration("backoff", backoff),
			zap.String("error", check.LastError))

		if err := o.sleep(ctx, backoff); err != nil {
			check.Result = models.CheckResultFailed
			check.Detail = "cancelled while retrying"
			o.finishCheck(ctx, check)
			return
		}
	}
}

func (o *Orchestrator) finishCheck(ctx context.Context, check *models.ComplianceCheck) {
	if check.Result.IsTerminal() || check.Result == models.CheckResultRequiresReview {
		done := o.now()
		check.CompletedAt = &done
	}
	if err := o.store.SaveCheck(ctx, check); err != nil {
		o.logger.Error("persist check result", zap.Error(err))
	}
	metrics.ComplianceChecks.WithLabelValues(string(check.Type), string(check.Result)).Inc()
}

// Aggregate folds check results into an outcome: any Failed rejects; any
// RequiresReview with no failures holds the request for manual disposition;
// otherwise the request is approved. Overridden checks count with their
// overridden result.
func Aggregate(checks []models.ComplianceCheck) Outcome {
	out := Outcome{Decision: DecisionApproved, RiskLevel: models.RiskLevelLow}
	for _, c := range checks {
		if riskRank(c.RiskLevel) > riskRank(out.RiskLevel) {
			out.RiskLevel = c.RiskLevel
		}
		switch c.Result {
		case models.CheckResultFailed:
			out.Decision = DecisionRejected
			out.Detail = string(c.Type) + " check failed"
			return out
		case models.CheckResultRequiresReview, models.CheckResultPending:
			out.Decision = DecisionRequiresReview
			out.Detail = string(c.Type) + " check requires review"
		}
	}
	return out
}

// Override records a reviewer's disposition of one check and re-aggregates
// the request's checks. The original result is preserved for audit.
func (o *Orchestrator) Override(ctx context.Context, checkID uuid.UUID, reviewerID uuid.UUID, result models.CheckResult, reason string) (Outcome, *models.ComplianceCheck, error) {
	if result != models.CheckResultPassed && result != models.CheckResultFailed {
		return Outcome{}, nil, apperrors.New(apperrors.CodeValidation, apperrors.StageCompliance,
			"override result must be passed or failed, got %s", result)
	}

	check, err := o.store.GetCheck(ctx, checkID)
	if err != nil {
		return Outcome{}, nil, err
	}

	check.IsOverridden = true
	check.OverriddenBy = &reviewerID
	check.OriginalResult = check.Result
	check.OverrideReason = reason
	check.Result = result
	done := o.now()
	check.CompletedAt = &done
	if err := o.store.SaveCheck(ctx, check); err != nil {
		return Outcome{}, nil, err
	}

	o.logger.Info("compliance check overridden",
		zap.String("check_id", check.ID.String()),
		zap.String("reviewer", reviewerID.String()),
		zap.String("from", string(check.OriginalResult)),
		zap.String("to", string(result)))

	checks, err := o.store.ListChecksByRequest(ctx, check.RequestID)
	if err != nil {
		return Outcome{}, nil, err
	}
	return Aggregate(checks), check, nil
}

func riskRank(level models.RiskLevel) int {
	switch level {
	case models.RiskLevelCritical:
		return 3
	case models.RiskLevelHigh:
		return 2
	case models.RiskLevelMedium:
		return 1
	default:
		return 0
	}
}
