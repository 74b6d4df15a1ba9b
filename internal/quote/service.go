// Package quote obtains time-boxed market price snapshots, judges their
// suitability for liquidation, and enforces the one-use rule on consumption.
package quote

import (
	"context"
	"fmt"
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

// Observation is a raw price reading from the external market-price source.
type Observation struct {
	Price              decimal.Decimal `json:"price"`
	Bid                decimal.Decimal `json:"bid"`
	Ask                decimal.Decimal `json:"ask"`
	High24h            decimal.Decimal `json:"high_24h"`
	Low24h             decimal.Decimal `json:"low_24h"`
	Volume24h          decimal.Decimal `json:"volume_24h"`
	AvailableLiquidity decimal.Decimal `json:"available_liquidity"`
	MinTransactionSize decimal.Decimal `json:"min_transaction_size"`
	MaxTransactionSize decimal.Decimal `json:"max_transaction_size"`
	Confidence         float64         `json:"confidence"`
	Source             string          `json:"source"`
}

// PriceSource is the external pricing collaborator.
type PriceSource interface {
	GetPrice(ctx context.Context, assetSymbol, outputSymbol string) (*Observation, error)
}

// Cache shares raw observations between concurrent requests inside the
// validity window. Each request still gets its own snapshot row, so the
// one-consumer invariant is untouched by caching.
type Cache interface {
	Get(ctx context.Context, key string) (*Observation, bool, error)
	Set(ctx context.Context, key string, obs *Observation, ttl time.Duration) error
}

// Service implements quoting.
type Service struct {
	source PriceSource
	cache  Cache
	store  *storage.Store
	cfg    config.LiquidationConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds the quote service. cache may be nil to disable sharing.
func NewService(source PriceSource, cache Cache, store *storage.Store, cfg config.LiquidationConfig, logger *zap.Logger) *Service {
	return &Service{
		source: source,
		cache:  cache,
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetQuote fetches a price observation (served from cache inside the
// validity window), judges suitability for the amount, and persists a fresh
// snapshot owned by requestID when given. Unsuitable snapshots are persisted
// too, with the reason, so the verdict is auditable.
func (s *Service) GetQuote(ctx context.Context, assetSymbol, outputSymbol string, amount decimal.Decimal, requestID *uuid.UUID) (*models.MarketPriceSnapshot, error) {
	obs, err := s.observe(ctx, assetSymbol, outputSymbol)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeTimeout, apperrors.StageQuote,
			"pricing source unavailable for %s/%s", assetSymbol, outputSymbol).AsRetryable()
	}

	now := s.now()
	validity := time.Duration(s.cfg.QuoteValidityMinutes) * time.Minute
	snap := &models.MarketPriceSnapshot{
		ID:                 uuid.New(),
		RequestID:          requestID,
		AssetSymbol:        assetSymbol,
		OutputSymbol:       outputSymbol,
		Price:              obs.Price,
		Bid:                obs.Bid,
		Ask:                obs.Ask,
		Spread:             obs.Ask.Sub(obs.Bid),
		High24h:            obs.High24h,
		Low24h:             obs.Low24h,
		Volume24h:          obs.Volume24h,
		Source:             obs.Source,
		Confidence:         obs.Confidence,
		MinTransactionSize: obs.MinTransactionSize,
		MaxTransactionSize: obs.MaxTransactionSize,
		ValidityMinutes:    s.cfg.QuoteValidityMinutes,
		ExpiresAt:          now.Add(validity),
		CreatedAt:          now,
	}

	snap.EstimatedSlippage = estimateSlippage(obs, amount)
	snap.IsSuitableForLiquidation, snap.SuitabilityReason = s.judge(snap, amount)

	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	metrics.QuotesIssued.WithLabelValues(fmt.Sprintf("%t", snap.IsSuitableForLiquidation)).Inc()

	if !snap.IsSuitableForLiquidation {
		s.logger.Warn("quote unsuitable for liquidation",
			zap.String("asset", assetSymbol),
			zap.String("output", outputSymbol),
			zap.String("reason", snap.SuitabilityReason))
	}
	return snap, nil
}

// ConsumeQuote is the only path allowed to mark a snapshot used. Exactly one
// caller succeeds; double consumption or consumption after expiry fails with
// CodePriceExpiredOrConsumed.
func (s *Service) ConsumeQuote(ctx context.Context, snapshotID, transactionID uuid.UUID) error {
	return s.store.ConsumeSnapshot(ctx, snapshotID, transactionID, s.now())
}

// RefreshIfStale returns the same snapshot while it is still consumable and
// transparently re-quotes when it has expired or been used. snap must be a
// snapshot previously issued by GetQuote; callers holding none quote directly.
func (s *Service) RefreshIfStale(ctx context.Context, snap *models.MarketPriceSnapshot, amount decimal.Decimal) (*models.MarketPriceSnapshot, error) {
	if snap.IsConsumable(s.now()) {
		return snap, nil
	}
	s.logger.Info("snapshot stale, re-quoting",
		zap.String("snapshot_id", snap.ID.String()),
		zap.String("asset", snap.AssetSymbol))
	fresh, err := s.GetQuote(ctx, snap.AssetSymbol, snap.OutputSymbol, amount, snap.RequestID)
	if err != nil {
		return nil, err
	}
	if !fresh.IsSuitableForLiquidation {
		return nil, apperrors.New(apperrors.CodePriceUnsuitable, apperrors.StageQuote,
			"re-quoted price for %s/%s is unsuitable: %s", snap.AssetSymbol, snap.OutputSymbol, fresh.SuitabilityReason).AsRetryable()
	}
	return fresh, nil
}

func (s *Service) observe(ctx context.Context, assetSymbol, outputSymbol string) (*Observation, error) {
	key := cacheKey(assetSymbol, outputSymbol)
	if s.cache != nil {
		if obs, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Warn("quote cache read failed", zap.Error(err))
		} else if ok {
			return obs, nil
		}
	}

	obs, err := s.source.GetPrice(ctx, assetSymbol, outputSymbol)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		ttl := time.Duration(s.cfg.QuoteValidityMinutes) * time.Minute
		if err := s.cache.Set(ctx, key, obs, ttl); err != nil {
			s.logger.Warn("quote cache write failed", zap.Error(err))
		}
	}
	return obs, nil
}

func (s *Service) judge(snap *models.MarketPriceSnapshot, amount decimal.Decimal) (bool, string) {
	if snap.Confidence < s.cfg.ConfidenceFloor {
		return false, fmt.Sprintf("price confidence %.2f below floor %.2f", snap.Confidence, s.cfg.ConfidenceFloor)
	}
	ceiling := decimal.NewFromFloat(s.cfg.SlippageCeilingPct)
	if snap.EstimatedSlippage.GreaterThan(ceiling) {
		return false, fmt.Sprintf("estimated slippage %s%% exceeds ceiling %s%%", snap.EstimatedSlippage, ceiling)
	}
	if snap.MinTransactionSize.GreaterThan(decimal.Zero) && amount.LessThan(snap.MinTransactionSize) {
		return false, fmt.Sprintf("amount %s below minimum transaction size %s", amount, snap.MinTransactionSize)
	}
	if snap.MaxTransactionSize.GreaterThan(decimal.Zero) && amount.GreaterThan(snap.MaxTransactionSize) {
		return false, fmt.Sprintf("amount %s above maximum transaction size %s", amount, snap.MaxTransactionSize)
	}
	return true, ""
}

// estimateSlippage approximates execution slippage in percent from the quoted
// spread plus the share of visible liquidity the amount consumes.
func estimateSlippage(obs *Observation, amount decimal.Decimal) decimal.Decimal {
	hundred := decimal.NewFromInt(100)

	var spreadPct decimal.Decimal
	if obs.Price.GreaterThan(decimal.Zero) {
		spreadPct = obs.Ask.Sub(obs.Bid).Div(obs.Price).Mul(hundred)
	}

	var depthPct decimal.Decimal
	if obs.AvailableLiquidity.GreaterThan(decimal.Zero) {
		depthPct = amount.Div(obs.AvailableLiquidity).Mul(hundred)
	}

	// Half the spread is paid crossing it; depth impact scales linearly.
	return spreadPct.Div(decimal.NewFromInt(2)).Add(depthPct).Round(6)
}

func cacheKey(assetSymbol, outputSymbol string) string {
	return fmt.Sprintf("quote:%s:%s", assetSymbol, outputSymbol)
}
