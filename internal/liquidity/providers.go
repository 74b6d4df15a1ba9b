package liquidity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/storage"
	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// ProviderService carries the provider lifecycle data operations consumed by
// the external admin surface. Providers are never deleted, only moved between
// soft statuses.
type ProviderService struct {
	store  *storage.Store
	logger *zap.Logger
}

// NewProviderService builds the provider lifecycle service.
func NewProviderService(store *storage.Store, logger *zap.Logger) *ProviderService {
	return &ProviderService{store: store, logger: logger}
}

// RegisterParams is the input for registering a provider.
type RegisterParams struct {
	Name                     string
	SupportedAssets          []string
	SupportedCurrencies      []string
	MinimumTransactionAmount decimal.Decimal
	MaximumTransactionAmount decimal.Decimal
	FeePercentage            decimal.Decimal
	AvailableLiquidity       decimal.Decimal
	Rating                   float64
}

// Register creates a provider in pending status awaiting approval.
func (s *ProviderService) Register(ctx context.Context, params RegisterParams) (*models.LiquidityProvider, error) {
	if params.Name == "" {
		return nil, apperrors.New(apperrors.CodeValidation, apperrors.StageMatching, "provider name is required")
	}
	if params.MinimumTransactionAmount.GreaterThan(params.MaximumTransactionAmount) {
		return nil, apperrors.New(apperrors.CodeValidation, apperrors.StageMatching,
			"minimum transaction amount exceeds maximum")
	}
	if params.FeePercentage.IsNegative() {
		return nil, apperrors.New(apperrors.CodeValidation, apperrors.StageMatching, "fee percentage cannot be negative")
	}

	now := time.Now().UTC()
	p := &models.LiquidityProvider{
		ID:                       uuid.New(),
		Name:                     params.Name,
		Status:                   models.ProviderStatusPending,
		SupportedAssets:          params.SupportedAssets,
		SupportedCurrencies:      params.SupportedCurrencies,
		MinimumTransactionAmount: params.MinimumTransactionAmount,
		MaximumTransactionAmount: params.MaximumTransactionAmount,
		FeePercentage:            params.FeePercentage,
		AvailableLiquidity:       params.AvailableLiquidity,
		Rating:                   params.Rating,
		IsAvailable:              false,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := s.store.CreateProvider(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("provider registered", zap.String("provider_id", p.ID.String()), zap.String("name", p.Name))
	return p, nil
}

// Approve activates a pending provider.
func (s *ProviderService) Approve(ctx context.Context, id uuid.UUID) error {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	if p.Status != models.ProviderStatusPending {
		return apperrors.New(apperrors.CodeConflict, apperrors.StageMatching,
			"provider %s is %s, only pending providers can be approved", id, p.Status)
	}
	if err := s.store.UpdateProviderStatus(ctx, id, models.ProviderStatusActive); err != nil {
		return err
	}
	return s.store.UpdateProviderAvailability(ctx, id, true)
}

// Suspend takes a provider out of matching without losing its history.
func (s *ProviderService) Suspend(ctx context.Context, id uuid.UUID) error {
	return s.store.UpdateProviderStatus(ctx, id, models.ProviderStatusSuspended)
}

// SetAvailability toggles the provider's availability flag.
func (s *ProviderService) SetAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	return s.store.UpdateProviderAvailability(ctx, id, available)
}

// Get loads a provider record.
func (s *ProviderService) Get(ctx context.Context, id uuid.UUID) (*models.LiquidityProvider, error) {
	return s.store.GetProvider(ctx, id)
}
