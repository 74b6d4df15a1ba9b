package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// CreateSnapshot persists a market price snapshot.
func (s *Store) CreateSnapshot(ctx context.Context, snap *models.MarketPriceSnapshot) error {
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, id uuid.UUID) (*models.MarketPriceSnapshot, error) {
	var snap models.MarketPriceSnapshot
	err := s.db.WithContext(ctx).First(&snap, "id = ?", id).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, apperrors.StageQuote, "snapshot %s not found", id)
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snap, nil
}

// LatestSnapshotForRequest returns the most recent snapshot owned by a
// request, or nil when none exists yet.
func (s *Store) LatestSnapshotForRequest(ctx context.Context, requestID uuid.UUID) (*models.MarketPriceSnapshot, error) {
	var snap models.MarketPriceSnapshot
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		First(&snap).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest snapshot for request: %w", err)
	}
	return &snap, nil
}

// PruneExpiredSnapshots deletes unconsumed snapshots whose validity window
// closed before the cutoff. Consumed snapshots stay as part of the
// transaction audit trail.
func (s *Store) PruneExpiredSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("is_used_for_liquidation = ? AND expires_at < ?", false, cutoff).
		Delete(&models.MarketPriceSnapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune expired snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ConsumeSnapshot atomically flips is_used_for_liquidation for exactly one
// caller. Consuming an already-used or expired snapshot fails with
// CodePriceExpiredOrConsumed and the caller must fetch a fresh quote.
func (s *Store) ConsumeSnapshot(ctx context.Context, id, txID uuid.UUID, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.MarketPriceSnapshot{}).
		Where("id = ? AND is_used_for_liquidation = ? AND expires_at > ?", id, false, now).
		Updates(map[string]interface{}{
			"is_used_for_liquidation": true,
			"used_by_transaction_id":  txID,
		})
	if res.Error != nil {
		return fmt.Errorf("consume snapshot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodePriceExpiredOrConsumed, apperrors.StageQuote,
			"snapshot %s is expired or already consumed", id).AsRetryable()
	}
	return nil
}
