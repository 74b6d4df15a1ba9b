// Package liquidation owns the LiquidationRequest lifecycle: it sequences
// eligibility, quoting, compliance, matching and execution, persists every
// transition with its reason, and exposes the request's status externally.
package liquidation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/compliance"
	"github.com/assetflow/liquidation-engine/internal/config"
	"github.com/assetflow/liquidation-engine/internal/eligibility"
	"github.com/assetflow/liquidation-engine/internal/executor"
	"github.com/assetflow/liquidation-engine/internal/liquidity"
	"github.com/assetflow/liquidation-engine/internal/quote"
	"github.com/assetflow/liquidation-engine/internal/storage"
	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/metrics"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// KYCService is the external identity collaborator; the engine only reads
// the verification verdict and tier.
type KYCService interface {
	IsVerified(ctx context.Context, userID uuid.UUID) (verified bool, tier int, err error)
}

// BalanceService asserts the user actually holds the asset being liquidated.
// Balances live in an external ledger.
type BalanceService interface {
	HasBalance(ctx context.Context, userID uuid.UUID, assetSymbol string, amount decimal.Decimal) (bool, error)
}

// Service is the liquidation orchestrator.
type Service struct {
	store      *storage.Store
	registry   *eligibility.Registry
	quotes     *quote.Service
	compliance *compliance.Orchestrator
	matcher    *liquidity.Matcher
	executor   *executor.Executor
	kyc        KYCService
	balance    BalanceService
	events     Publisher
	cfg        config.LiquidationConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewService wires the orchestrator. A nil publisher disables the event
// stream.
func NewService(
	store *storage.Store,
	registry *eligibility.Registry,
	quotes *quote.Service,
	comp *compliance.Orchestrator,
	matcher *liquidity.Matcher,
	exec *executor.Executor,
	kyc KYCService,
	balance BalanceService,
	events Publisher,
	cfg config.LiquidationConfig,
	logger *zap.Logger,
) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	return &Service{
		store:      store,
		registry:   registry,
		quotes:     quotes,
		compliance: comp,
		matcher:    matcher,
		executor:   exec,
		kyc:        kyc,
		balance:    balance,
		events:     events,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateParams is the input for a new liquidation request.
type CreateParams struct {
	UserID             uuid.UUID
	IdempotencyKey     string
	AssetSymbol        string
	Amount             decimal.Decimal
	OutputType         models.OutputType
	OutputSymbol       string
	DestinationType    models.DestinationType
	DestinationAddress string
	DestinationCountry string
}

func (p CreateParams) validate() error {
	switch {
	case p.UserID == uuid.Nil:
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "user id is required")
	case p.AssetSymbol == "":
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "asset symbol is required")
	case p.OutputSymbol == "":
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "output symbol is required")
	case !p.Amount.IsPositive():
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "amount must be positive")
	case p.Amount.Exponent() < -8:
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "amount precision exceeds 8 fractional digits")
	case p.DestinationAddress == "":
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "destination address is required")
	}
	switch p.OutputType {
	case models.OutputTypeFiat, models.OutputTypeStablecoin, models.OutputTypeCrypto:
	default:
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "unknown output type %q", p.OutputType)
	}
	switch p.DestinationType {
	case models.DestinationTypeBankAccount, models.DestinationTypeWallet, models.DestinationTypeInternalAccount:
	default:
		return apperrors.New(apperrors.CodeValidation, apperrors.StageValidation, "unknown destination type %q", p.DestinationType)
	}
	return nil
}

// Create validates the request, snapshots the current market price for the
// estimate, and persists it in pending status. Replays with the same
// idempotency key return the original request without creating a duplicate.
// Malformed input is rejected synchronously with no state created.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.LiquidationRequest, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if params.IdempotencyKey == "" {
		params.IdempotencyKey = uuid.NewString()
	} else {
		// Replays short-circuit before quoting so they leave no orphan
		// snapshot behind; the unique index still backstops a racing pair.
		prior, err := s.store.GetRequestByIdempotencyKey(ctx, params.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			return prior, nil
		}
	}

	id := uuid.New()
	snap, err := s.quotes.GetQuote(ctx, params.AssetSymbol, params.OutputSymbol, params.Amount, &id)
	if err != nil {
		return nil, err
	}
	estimated := params.Amount.Mul(snap.Price).Round(8)

	now := s.now()
	req := &models.LiquidationRequest{
		ID:                    id,
		UserID:                params.UserID,
		IdempotencyKey:        params.IdempotencyKey,
		AssetSymbol:           params.AssetSymbol,
		Amount:                params.Amount,
		OutputType:            params.OutputType,
		OutputSymbol:          params.OutputSymbol,
		DestinationType:       params.DestinationType,
		DestinationAddress:    params.DestinationAddress,
		DestinationCountry:    params.DestinationCountry,
		Status:                models.LiquidationStatusPending,
		MarketPriceAtCreation: snap.Price,
		EstimatedOutputAmount: estimated,
		RiskLevel:             initialRiskLevel(estimated, s.cfg.SanctionsAmountThreshold),
		CreatedAt:             now,
		UpdatedAt:             now,
		ExpiresAt:             now.Add(s.cfg.RequestTTL),
	}

	stored, created, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, nil
	}

	s.publish(ctx, stored, "created", "", stored.Status, "request accepted")
	return stored, nil
}

func initialRiskLevel(estimatedOutput decimal.Decimal, sanctionsThreshold float64) models.RiskLevel {
	threshold := decimal.NewFromFloat(sanctionsThreshold)
	switch {
	case estimatedOutput.GreaterThanOrEqual(threshold.Mul(decimal.NewFromInt(10))):
		return models.RiskLevelHigh
	case estimatedOutput.GreaterThanOrEqual(threshold):
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// Process drives a request through its workflow from whatever in-progress
// state it is in, stopping when it parks (review hold, no liquidity, missing
// multi-signature approval) or reaches a terminal state. It is safe to call
// repeatedly; the background sweeper re-drives parked requests.
func (s *Service) Process(ctx context.Context, requestID uuid.UUID) error {
	for {
		req, err := s.store.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			return nil
		}

		// Cooperative cancellation between stages.
		if req.CancelRequested && CanCancel(req.Status) {
			return s.transition(ctx, req, models.LiquidationStatusCancelled, "cancelled by user")
		}
		if s.now().After(req.ExpiresAt) {
			return s.transition(ctx, req, models.LiquidationStatusFailed, "expired")
		}

		var proceed bool
		switch req.Status {
		case models.LiquidationStatusPending:
			proceed, err = s.stageKYC(ctx, req)
		case models.LiquidationStatusKycVerificationInProgress:
			proceed, err = s.stageAssetVerification(ctx, req)
		case models.LiquidationStatusAssetVerificationInProgress:
			proceed, err = s.enterCompliance(ctx, req)
		case models.LiquidationStatusComplianceCheckInProgress:
			proceed, err = s.stageCompliance(ctx, req)
		case models.LiquidationStatusAwaitingLiquidityProvider:
			proceed, err = s.stageMatchAndExecute(ctx, req)
		default:
			// Executing/transfer states are driven inside
			// stageMatchAndExecute; nothing to resume here.
			return nil
		}
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
}

// stageKYC gates on the external identity service's verdict.
func (s *Service) stageKYC(ctx context.Context, req *models.LiquidationRequest) (bool, error) {
	if err := s.transition(ctx, req, models.LiquidationStatusKycVerificationInProgress, "verifying identity"); err != nil {
		return false, err
	}

	verified, tier, err := s.kyc.IsVerified(ctx, req.UserID)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeTimeout, apperrors.StageCompliance,
			"identity service unavailable").AsRetryable()
	}
	if !verified {
		return false, s.transition(ctx, req, models.LiquidationStatusRejected, "user identity is not verified")
	}

	rule, ruleErr := s.store.GetAssetRule(ctx, req.AssetSymbol)
	if ruleErr == nil && tier < rule.RequiredKYCTier {
		return false, s.transition(ctx, req, models.LiquidationStatusRejected,
			"kyc tier is below the level required for this asset")
	}

	if err := s.store.UpdateRequestFields(ctx, req.ID, map[string]interface{}{"kyc_verified": true}); err != nil {
		return false, err
	}
	return true, nil
}

// stageAssetVerification asserts the balance and evaluates eligibility rules.
func (s *Service) stageAssetVerification(ctx context.Context, req *models.LiquidationRequest) (bool, error) {
	holds, err := s.balance.HasBalance(ctx, req.UserID, req.AssetSymbol, req.Amount)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.CodeTimeout, apperrors.StageEligibility,
			"ledger service unavailable").AsRetryable()
	}
	if !holds {
		return false, s.transition(ctx, req, models.LiquidationStatusRejected,
			"insufficient asset balance")
	}

	decision, err := s.registry.CheckEligibility(ctx, req.UserID, req.AssetSymbol, req.Amount, req.DestinationCountry)
	if err != nil {
		return false, err
	}
	if !decision.Eligible {
		return false, s.transition(ctx, req, models.LiquidationStatusRejected, decision.Reason)
	}

	if err := s.transition(ctx, req, models.LiquidationStatusAssetVerificationInProgress, "asset eligibility confirmed"); err != nil {
		return false, err
	}
	err = s.store.UpdateRequestFields(ctx, req.ID, map[string]interface{}{
		"asset_eligibility_verified": true,
		"requires_multi_signature":   decision.RequiresMultiSignature,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// enterCompliance moves the request into screening and runs the checks.
func (s *Service) enterCompliance(ctx context.Context, req *models.LiquidationRequest) (bool, error) {
	if err := s.transition(ctx, req, models.LiquidationStatusComplianceCheckInProgress, "running compliance checks"); err != nil {
		return false, err
	}
	outcome, err := s.compliance.RunChecks(ctx, req)
	if err != nil {
		return false, err
	}
	return s.applyComplianceOutcome(ctx, req, outcome)
}

// stageCompliance resumes a request already in screening, e.g. after a
// manual review disposition, by re-aggregating the stored checks.
func (s *Service) stageCompliance(ctx context.Context, req *models.LiquidationRequest) (bool, error) {
	checks, err := s.store.ListChecksByRequest(ctx, req.ID)
	if err != nil {
		return false, err
	}
	if len(checks) == 0 {
		outcome, err := s.compliance.RunChecks(ctx, req)
		if err != nil {
			return false, err
		}
		return s.applyComplianceOutcome(ctx, req, outcome)
	}
	return s.applyComplianceOutcome(ctx, req, compliance.Aggregate(checks))
}

func (s *Service) applyComplianceOutcome(ctx context.Context, req *models.LiquidationRequest, outcome compliance.Outcome) (bool, error) {
	switch outcome.Decision {
	case compliance.DecisionRejected:
		return false, s.transition(ctx, req, models.LiquidationStatusRejected,
			"compliance rejected: "+outcome.Detail)
	case compliance.DecisionRequiresReview:
		// Parked in compliance_check_in_progress until a reviewer disposes.
		s.logger.Info("request held for manual review",
			zap.String("request_id", req.ID.String()),
			zap.String("detail", outcome.Detail))
		return false, nil
	}

	err := s.store.UpdateRequestFields(ctx, req.ID, map[string]interface{}{
		"compliance_approved": true,
		"risk_level":          outcome.RiskLevel,
	})
	if err != nil {
		return false, err
	}
	return true, s.transition(ctx, req, models.LiquidationStatusAwaitingLiquidityProvider, "compliance approved")
}

// stageMatchAndExecute matches a provider, refreshes the quote, and settles.
func (s *Service) stageMatchAndExecute(ctx context.Context, req *models.LiquidationRequest) (bool, error) {
	if req.RequiresMultiSignature && !req.MultiSignatureApproved {
		// Parked until the additional approval arrives.
		err := s.store.UpdateRequestFields(ctx, req.ID, map[string]interface{}{
			"status_reason": "awaiting multi-signature approval",
		})
		return false, err
	}

	provider, err := s.matcher.SelectProvider(ctx, req.AssetSymbol, req.OutputSymbol, req.Amount)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNoLiquidityAvailable {
			// Parked; the sweeper re-polls until capacity appears or the
			// request expires.
			updErr := s.store.UpdateRequestFields(ctx, req.ID, map[string]interface{}{
				"status_reason": "waiting for liquidity provider capacity",
			})
			return false, updErr
		}
		return false, err
	}

	release := func() {
		if relErr := s.matcher.Release(ctx, provider.ID, req.Amount); relErr != nil {
			s.logger.Error("release reservation", zap.Error(relErr))
		}
	}

	// Last cooperative cancellation point before money moves.
	fresh, err := s.store.GetRequest(ctx, req.ID)
	if err != nil {
		release()
		return false, err
	}
	if fresh.CancelRequested {
		release()
		return false, s.transition(ctx, fresh, models.LiquidationStatusCancelled, "cancelled by user")
	}

	if err := s.store.UpdateRequestFields(ctx, req.ID, map[string]interface{}{"provider_id": provider.ID}); err != nil {
		release()
		return false, err
	}
	req.ProviderID = &provider.ID

	snap, err := s.executableSnapshot(ctx, req)
	if err != nil {
		release()
		return false, err
	}

	if err := s.transition(ctx, req, models.LiquidationStatusExecuting, "provider matched, executing"); err != nil {
		release()
		return false, err
	}

	tx, err := s.settleWithRequote(ctx, req, provider, snap)
	if err != nil {
		release()
		reloaded, loadErr := s.store.GetRequest(ctx, req.ID)
		if loadErr != nil {
			return false, loadErr
		}
		if transErr := s.transition(ctx, reloaded, models.LiquidationStatusFailed,
			"execution failed: "+err.Error()); transErr != nil {
			return false, transErr
		}
		return false, err
	}

	if err := s.transition(ctx, req, models.LiquidationStatusCompleted, "settled as "+tx.TransferReference); err != nil {
		return false, err
	}
	return false, nil
}

// maxRequotes bounds how many times an execution is retried with a fresh
// quote after losing the snapshot between the freshness check and the atomic
// consume.
const maxRequotes = 3

// settleWithRequote runs the executor, transparently re-quoting in place
// while the reservation is held whenever the snapshot is consumed or expires
// before the executor's atomic consume wins. The loop is bounded; exhausting
// it surfaces the last error and the caller fails the request, so a lost
// consume race can never strand the request in executing.
func (s *Service) settleWithRequote(ctx context.Context, req *models.LiquidationRequest, provider *models.LiquidityProvider, snap *models.MarketPriceSnapshot) (*models.LiquidationTransaction, error) {
	onSubmitted := func(cbCtx context.Context) error {
		return s.transition(cbCtx, req, models.LiquidationStatusTransferInProgress, "transfer submitted")
	}
	for requote := 0; ; requote++ {
		tx, err := s.executor.Execute(ctx, req, provider, snap, onSubmitted)
		if err == nil {
			return tx, nil
		}
		if apperrors.CodeOf(err) != apperrors.CodePriceExpiredOrConsumed || requote >= maxRequotes {
			return nil, err
		}
		s.logger.Info("snapshot lost before consume, re-quoting",
			zap.String("request_id", req.ID.String()),
			zap.Int("requote", requote+1))
		snap, err = s.executableSnapshot(ctx, req)
		if err != nil {
			return nil, err
		}
	}
}

// executableSnapshot returns a consumable, suitable snapshot for the request,
// transparently re-quoting when the held one expired or was consumed.
func (s *Service) executableSnapshot(ctx context.Context, req *models.LiquidationRequest) (*models.MarketPriceSnapshot, error) {
	snap, err := s.store.LatestSnapshotForRequest(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap, err = s.quotes.GetQuote(ctx, req.AssetSymbol, req.OutputSymbol, req.Amount, &req.ID)
		if err != nil {
			return nil, err
		}
	}
	fresh, err := s.quotes.RefreshIfStale(ctx, snap, req.Amount)
	if err != nil {
		return nil, err
	}
	if !fresh.IsSuitableForLiquidation {
		return nil, apperrors.New(apperrors.CodePriceUnsuitable, apperrors.StageQuote,
			"market price unsuitable: %s", fresh.SuitabilityReason).AsRetryable()
	}
	return fresh, nil
}

// Cancel requests user-initiated cancellation. Parked requests cancel
// immediately; actively processing ones cancel cooperatively at the next
// stage boundary. Once execution has begun the caller is directed to the
// reversal path.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID, reason string) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return apperrors.New(apperrors.CodeConflict, apperrors.StageLifecycle,
			"request %s is already %s", requestID, req.Status)
	}
	if !CanCancel(req.Status) {
		return apperrors.New(apperrors.CodeCancellationRejected, apperrors.StageLifecycle,
			"request %s is %s; use transaction reversal instead", requestID, req.Status)
	}

	if err := s.store.MarkCancelRequested(ctx, requestID); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	err = s.transition(ctx, req, models.LiquidationStatusCancelled, reason)
	if err != nil && apperrors.CodeOf(err) == apperrors.CodeConflict {
		// The workflow moved on concurrently; the flag cancels it at the
		// next stage boundary if still permitted.
		return nil
	}
	return err
}

// StatusDetail is the externally visible view of a request.
type StatusDetail struct {
	Request      *models.LiquidationRequest      `json:"request"`
	Checks       []models.ComplianceCheck        `json:"checks"`
	Transactions []models.LiquidationTransaction `json:"transactions"`
}

// GetStatus returns the request with its checks and execution attempts.
func (s *Service) GetStatus(ctx context.Context, requestID uuid.UUID) (*StatusDetail, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	checks, err := s.store.ListChecksByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactionsByRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &StatusDetail{Request: req, Checks: checks, Transactions: txs}, nil
}

// SubmitComplianceReview records a reviewer's disposition of a held check and
// moves the request forward or to rejected according to the re-aggregation.
func (s *Service) SubmitComplianceReview(ctx context.Context, checkID, reviewerID uuid.UUID, result models.CheckResult, notes string) error {
	outcome, check, err := s.compliance.Override(ctx, checkID, reviewerID, result, notes)
	if err != nil {
		return err
	}

	req, err := s.store.GetRequest(ctx, check.RequestID)
	if err != nil {
		return err
	}
	if req.Status != models.LiquidationStatusComplianceCheckInProgress {
		// Already moved on (e.g. expired); the override stays recorded.
		return nil
	}

	if _, err := s.applyComplianceOutcome(ctx, req, outcome); err != nil {
		return err
	}
	return nil
}

// ApproveMultiSignature records the additional approval required for amounts
// above the asset's multi-signature threshold.
func (s *Service) ApproveMultiSignature(ctx context.Context, requestID, approverID uuid.UUID) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if !req.RequiresMultiSignature {
		return apperrors.New(apperrors.CodeConflict, apperrors.StageLifecycle,
			"request %s does not require multi-signature approval", requestID)
	}
	err = s.store.UpdateRequestFields(ctx, requestID, map[string]interface{}{
		"multi_signature_approved": true,
	})
	if err != nil {
		return err
	}
	s.logger.Info("multi-signature approval recorded",
		zap.String("request_id", requestID.String()),
		zap.String("approver", approverID.String()))
	return nil
}

// ReverseTransaction is the administrative undo of a completed liquidation
// inside its reversal window. The request moves to cancelled via an explicit
// operator override recorded with the reversal reason.
func (s *Service) ReverseTransaction(ctx context.Context, transactionID uuid.UUID, reason string) error {
	tx, err := s.executor.Reverse(ctx, transactionID, reason)
	if err != nil {
		return err
	}

	req, err := s.store.GetRequest(ctx, tx.RequestID)
	if err != nil {
		return err
	}
	// Operator override: the one sanctioned backward move.
	err = s.store.TransitionRequest(ctx, req.ID,
		models.LiquidationStatusCompleted, models.LiquidationStatusCancelled,
		"reversal override: "+reason)
	if err != nil {
		return err
	}
	s.publish(ctx, req, "reversal_override", models.LiquidationStatusCompleted, models.LiquidationStatusCancelled, reason)
	return nil
}

// transition persists a status change, updates the in-memory copy, publishes
// the event, and records terminal metrics.
func (s *Service) transition(ctx context.Context, req *models.LiquidationRequest, to models.LiquidationStatus, reason string) error {
	if !CanTransition(req.Status, to) {
		return apperrors.New(apperrors.CodeConflict, apperrors.StageLifecycle,
			"illegal transition %s -> %s for request %s", req.Status, to, req.ID)
	}
	if err := s.store.TransitionRequest(ctx, req.ID, req.Status, to, reason); err != nil {
		return err
	}
	from := req.Status
	req.Status = to
	req.StatusReason = reason

	s.publish(ctx, req, "status_changed", from, to, reason)
	if to.IsTerminal() {
		metrics.RequestsFinished.WithLabelValues(string(to)).Inc()
		metrics.RequestDuration.WithLabelValues(string(to)).Observe(s.now().Sub(req.CreatedAt).Seconds())
	}
	return nil
}

func (s *Service) publish(ctx context.Context, req *models.LiquidationRequest, eventType string, from, to models.LiquidationStatus, reason string) {
	err := s.events.Publish(ctx, Event{
		RequestID:  req.ID,
		UserID:     req.UserID,
		Type:       eventType,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		At:         s.now(),
	})
	if err != nil {
		s.logger.Warn("publish lifecycle event", zap.Error(err))
	}
}
