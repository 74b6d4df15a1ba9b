package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// CreateProvider registers a new liquidity provider record.
func (s *Store) CreateProvider(ctx context.Context, p *models.LiquidityProvider) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

// GetProvider loads a provider by id.
func (s *Store) GetProvider(ctx context.Context, id uuid.UUID) (*models.LiquidityProvider, error) {
	var p models.LiquidityProvider
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, apperrors.StageMatching, "provider %s not found", id)
		}
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return &p, nil
}

// UpdateProviderStatus moves a provider between soft statuses.
func (s *Store) UpdateProviderStatus(ctx context.Context, id uuid.UUID, status models.ProviderStatus) error {
	return s.updateProvider(ctx, id, map[string]interface{}{"status": status})
}

// UpdateProviderAvailability toggles the availability flag.
func (s *Store) UpdateProviderAvailability(ctx context.Context, id uuid.UUID, available bool) error {
	return s.updateProvider(ctx, id, map[string]interface{}{"is_available": available})
}

func (s *Store) updateProvider(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.LiquidityProvider{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update provider: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, apperrors.StageMatching, "provider %s not found", id)
	}
	return nil
}

// ListCandidateProviders returns active, available providers whose
// per-transaction bounds and remaining liquidity admit the amount. Supported
// asset/currency membership is filtered by the matcher since the sets live in
// JSON columns.
func (s *Store) ListCandidateProviders(ctx context.Context, amount decimal.Decimal) ([]models.LiquidityProvider, error) {
	var providers []models.LiquidityProvider
	err := s.db.WithContext(ctx).
		Where("status = ? AND is_available = ?", models.ProviderStatusActive, true).
		Where("minimum_transaction_amount <= ? AND maximum_transaction_amount >= ?", amount, amount).
		Where("available_liquidity >= ?", amount).
		Find(&providers).Error
	if err != nil {
		return nil, fmt.Errorf("list candidate providers: %w", err)
	}
	return providers, nil
}

// ReserveLiquidity optimistically decrements a provider's available
// liquidity. The compare-and-decrement keeps the balance non-negative under
// concurrent matching; ok reports whether this caller won the reservation.
func (s *Store) ReserveLiquidity(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.LiquidityProvider{}).
		Where("id = ? AND status = ? AND is_available = ? AND available_liquidity >= ?",
			id, models.ProviderStatusActive, true, amount).
		Updates(map[string]interface{}{
			"available_liquidity": gorm.Expr("available_liquidity - ?", amount),
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("reserve liquidity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.logger.Debug("liquidity reserved",
		zap.String("provider_id", id.String()),
		zap.String("amount", amount.String()))
	return true, nil
}

// ReleaseLiquidity returns a reservation to the provider after a failed or
// reversed execution.
func (s *Store) ReleaseLiquidity(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	res := s.db.WithContext(ctx).
		Model(&models.LiquidityProvider{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"available_liquidity": gorm.Expr("available_liquidity + ?", amount),
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("release liquidity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, apperrors.StageMatching, "provider %s not found", id)
	}
	return nil
}

// RecordProviderResult updates the provider's scoring counters after an
// execution. The reserved liquidity stays debited on success; failures are
// released by the caller via ReleaseLiquidity.
func (s *Store) RecordProviderResult(ctx context.Context, id uuid.UUID, success bool) error {
	column := "successful_liquidations"
	if !success {
		column = "failed_liquidations"
	}
	res := s.db.WithContext(ctx).
		Model(&models.LiquidityProvider{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:       gorm.Expr(column + " + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("record provider result: %w", res.Error)
	}
	return nil
}
