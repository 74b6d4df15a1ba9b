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

// CreateTransaction inserts an execution attempt record.
func (s *Store) CreateTransaction(ctx context.Context, tx *models.LiquidationTransaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetTransaction loads a transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.LiquidationTransaction, error) {
	var tx models.LiquidationTransaction
	err := s.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, apperrors.StageExecution, "transaction %s not found", id)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

// SaveTransaction persists the full transaction state. Every failure detail
// is kept for audit; money-moving errors are never silently dropped.
func (s *Store) SaveTransaction(ctx context.Context, tx *models.LiquidationTransaction) error {
	tx.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(tx).Error; err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

// MarkTransactionReversed flips the reversal fields for exactly one caller.
func (s *Store) MarkTransactionReversed(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.LiquidationTransaction{}).
		Where("id = ? AND is_reversed = ? AND is_reversible = ? AND reversible_until >= ?", id, false, true, now).
		Updates(map[string]interface{}{
			"is_reversed":     true,
			"reversal_reason": reason,
			"updated_at":      now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark transaction reversed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeReversalRejected, apperrors.StageExecution,
			"transaction %s is outside its reversal window or already reversed", id)
	}
	return nil
}

// ListTransactionsByRequest returns all execution attempts for a request.
func (s *Store) ListTransactionsByRequest(ctx context.Context, requestID uuid.UUID) ([]models.LiquidationTransaction, error) {
	var txs []models.LiquidationTransaction
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at").
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}
