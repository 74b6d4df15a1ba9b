// Package executor drives settlement of a matched liquidation with bounded
// retry and a short post-settlement reversal window. Each attempt is its own
// LiquidationTransaction record so failed money movement is never lost.
package executor

import (
	"context"
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

// TransferRequest is the instruction handed to the settlement rail.
type TransferRequest struct {
	RequestID   uuid.UUID
	Destination string
	Amount      decimal.Decimal
	Currency    string
}

// TransferReceipt is the rail's acknowledgement of a settled transfer.
type TransferReceipt struct {
	Reference     string
	Confirmations int
}

// SettlementRail is the external payment/settlement collaborator.
type SettlementRail interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
	Reverse(ctx context.Context, reference string) error
	EstimateNetworkFee(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Executor owns LiquidationTransaction records and provider statistics.
type Executor struct {
	store  *storage.Store
	rail   SettlementRail
	cfg    config.LiquidationConfig
	logger *zap.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds the transaction executor.
func New(store *storage.Store, rail SettlementRail, cfg config.LiquidationConfig, logger *zap.Logger) *Executor {
	return &Executor{
		store:  store,
		rail:   rail,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// FeeBreakdown is the fee decomposition of an execution.
type FeeBreakdown struct {
	Gross       decimal.Decimal
	ProviderFee decimal.Decimal
	PlatformFee decimal.Decimal
	NetworkFee  decimal.Decimal
	Total       decimal.Decimal
	Net         decimal.Decimal
}

// ComputeFees derives the fee breakdown from the consumed snapshot's rate,
// the provider's fee schedule, platform policy and the rail's network fee.
// Amounts are rounded to 8 fractional digits; gross always equals net plus
// total fees.
func ComputeFees(amount, rate, providerFeePct, platformFeePct, networkFee decimal.Decimal) FeeBreakdown {
	hundred := decimal.NewFromInt(100)
	gross := amount.Mul(rate).Round(8)
	providerFee := gross.Mul(providerFeePct).Div(hundred).Round(8)
	platformFee := gross.Mul(platformFeePct).Div(hundred).Round(8)
	total := providerFee.Add(platformFee).Add(networkFee)
	return FeeBreakdown{
		Gross:       gross,
		ProviderFee: providerFee,
		PlatformFee: platformFee,
		NetworkFee:  networkFee,
		Total:       total,
		Net:         gross.Sub(total),
	}
}

// Execute settles the request with the matched provider using the consumed
// snapshot's rate. The snapshot is consumed exactly once, before the first
// attempt. Failed attempts are persisted with their error and retried with
// exponential backoff up to the retry budget; exhausting it returns
// CodeExecutionFailed and the caller releases the provider's reservation.
// onSubmitted is invoked once, before the first transfer leaves the engine,
// so the orchestrator can record the transfer-in-progress transition.
func (e *Executor) Execute(ctx context.Context, req *models.LiquidationRequest, provider *models.LiquidityProvider, snap *models.MarketPriceSnapshot, onSubmitted func(context.Context) error) (*models.LiquidationTransaction, error) {
	networkFee, err := e.rail.EstimateNetworkFee(ctx, req.OutputSymbol)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTimeout, apperrors.StageExecution,
			"network fee estimate unavailable").AsRetryable()
	}
	fees := ComputeFees(req.Amount, snap.Price, provider.FeePercentage,
		decimal.NewFromFloat(e.cfg.PlatformFeePct), networkFee)

	var lastErr error
	for attempt := 0; attempt < e.cfg.ExecutionMaxRetries; attempt++ {
		tx := e.newAttempt(req, provider, snap, fees, attempt)

		if attempt == 0 {
			// The snapshot backs exactly one execution; a lost consume race
			// or expiry forces the caller to re-quote.
			if err := e.store.ConsumeSnapshot(ctx, snap.ID, tx.ID, e.now()); err != nil {
				return nil, err
			}
			if err := e.store.CreateTransaction(ctx, tx); err != nil {
				return nil, err
			}
			if onSubmitted != nil {
				if err := onSubmitted(ctx); err != nil {
					return nil, err
				}
			}
		} else {
			if err := e.store.CreateTransaction(ctx, tx); err != nil {
				return nil, err
			}
		}

		receipt, err := e.rail.Transfer(ctx, TransferRequest{
			RequestID:   req.ID,
			Destination: req.DestinationAddress,
			Amount:      fees.Net,
			Currency:    req.OutputSymbol,
		})
		if err == nil {
			return tx, e.complete(ctx, tx, provider, receipt)
		}

		lastErr = err
		metrics.ExecutionAttempts.WithLabelValues("failed").Inc()
		tx.Status = models.TransactionStatusFailed
		tx.ErrorDetail = err.Error()
		if attempt+1 < e.cfg.ExecutionMaxRetries {
			backoff := e.cfg.ExecutionBackoffBase << attempt
			next := e.now().Add(backoff)
			tx.NextRetryAt = &next
			if saveErr := e.store.SaveTransaction(ctx, tx); saveErr != nil {
				return nil, saveErr
			}
			e.logger.Warn("execution attempt failed, retrying",
				zap.String("request_id", req.ID.String()),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			if err := e.sleep(ctx, backoff); err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeExecutionFailed, apperrors.StageExecution,
					"cancelled while retrying execution for request %s", req.ID)
			}
			continue
		}
		if saveErr := e.store.SaveTransaction(ctx, tx); saveErr != nil {
			return nil, saveErr
		}
	}

	if err := e.store.RecordProviderResult(ctx, provider.ID, false); err != nil {
		e.logger.Error("record provider failure", zap.Error(err))
	}
	return nil, apperrors.Wrap(lastErr, apperrors.CodeExecutionFailed, apperrors.StageExecution,
		"execution exhausted %d attempts for request %s", e.cfg.ExecutionMaxRetries, req.ID)
}

func (e *Executor) newAttempt(req *models.LiquidationRequest, provider *models.LiquidityProvider, snap *models.MarketPriceSnapshot, fees FeeBreakdown, attempt int) *models.LiquidationTransaction {
	now := e.now()
	return &models.LiquidationTransaction{
		ID:            uuid.New(),
		RequestID:     req.ID,
		ProviderID:    provider.ID,
		SnapshotID:    snap.ID,
		Status:        models.TransactionStatusProcessing,
		ExchangeRate:  snap.Price,
		MarketPrice:   snap.Price,
		GrossAmount:   fees.Gross,
		ProviderFee:   fees.ProviderFee,
		PlatformFee:   fees.PlatformFee,
		NetworkFee:    fees.NetworkFee,
		TotalFees:     fees.Total,
		NetAmount:     fees.Net,
		RetryAttempts: attempt,
		MaxRetries:    e.cfg.ExecutionMaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (e *Executor) complete(ctx context.Context, tx *models.LiquidationTransaction, provider *models.LiquidityProvider, receipt *TransferReceipt) error {
	now := e.now()
	until := now.Add(e.cfg.ReversalWindow)
	tx.Status = models.TransactionStatusCompleted
	tx.TransferReference = receipt.Reference
	tx.Confirmations = receipt.Confirmations
	tx.CompletedAt = &now
	tx.IsReversible = true
	tx.ReversibleUntil = &until
	tx.NextRetryAt = nil
	if err := e.store.SaveTransaction(ctx, tx); err != nil {
		return err
	}
	metrics.ExecutionAttempts.WithLabelValues("completed").Inc()

	// The reservation becomes a permanent debit; only the counters move here.
	if err := e.store.RecordProviderResult(ctx, provider.ID, true); err != nil {
		e.logger.Error("record provider success", zap.Error(err))
	}
	e.logger.Info("liquidation settled",
		zap.String("request_id", tx.RequestID.String()),
		zap.String("transaction_id", tx.ID.String()),
		zap.String("reference", receipt.Reference),
		zap.String("net_amount", tx.NetAmount.String()))
	return nil
}

// Reverse undoes a completed transaction inside its reversal window. It is a
// distinct administrative operation, never an automatic retry path. The
// provider's liquidity is re-credited; the caller transitions the owning
// request to cancelled.
func (e *Executor) Reverse(ctx context.Context, transactionID uuid.UUID, reason string) (*models.LiquidationTransaction, error) {
	tx, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.TransactionStatusCompleted {
		return nil, apperrors.New(apperrors.CodeReversalRejected, apperrors.StageExecution,
			"transaction %s is %s, only completed transactions can be reversed", transactionID, tx.Status)
	}

	// Claim the reversal first so exactly one operator wins the window.
	now := e.now()
	if err := e.store.MarkTransactionReversed(ctx, transactionID, reason, now); err != nil {
		return nil, err
	}

	if err := e.rail.Reverse(ctx, tx.TransferReference); err != nil {
		// The claim stands; the rail reversal must be reconciled manually.
		e.logger.Error("rail reversal failed after claim",
			zap.String("transaction_id", transactionID.String()),
			zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.CodeExecutionFailed, apperrors.StageExecution,
			"rail refused reversal of %s", tx.TransferReference)
	}

	req, err := e.store.GetRequest(ctx, tx.RequestID)
	if err != nil {
		return nil, err
	}
	if req.ProviderID != nil {
		if err := e.store.ReleaseLiquidity(ctx, *req.ProviderID, req.Amount); err != nil {
			return nil, err
		}
	}

	tx.IsReversed = true
	tx.ReversalReason = reason
	e.logger.Info("transaction reversed",
		zap.String("transaction_id", transactionID.String()),
		zap.String("reason", reason))
	return tx, nil
}
