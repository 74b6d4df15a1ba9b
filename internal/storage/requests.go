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

// CreateRequest inserts a new liquidation request. When a request with the
// same idempotency key already exists it is returned instead, with created
// reporting false.
func (s *Store) CreateRequest(ctx context.Context, req *models.LiquidationRequest) (existing *models.LiquidationRequest, created bool, err error) {
	err = s.db.WithContext(ctx).Create(req).Error
	if err == nil {
		return req, true, nil
	}

	// Unique violation on the idempotency key means a replay.
	var prior models.LiquidationRequest
	lookupErr := s.db.WithContext(ctx).
		Where("idempotency_key = ?", req.IdempotencyKey).
		First(&prior).Error
	if lookupErr == nil {
		return &prior, false, nil
	}
	return nil, false, fmt.Errorf("create request: %w", err)
}

// GetRequestByIdempotencyKey returns the request created under the key, or
// nil when the key has never been used.
func (s *Store) GetRequestByIdempotencyKey(ctx context.Context, key string) (*models.LiquidationRequest, error) {
	var req models.LiquidationRequest
	err := s.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&req).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("request by idempotency key: %w", err)
	}
	return &req, nil
}

// GetRequest loads a request by id.
func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (*models.LiquidationRequest, error) {
	var req models.LiquidationRequest
	err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, apperrors.StageLifecycle, "liquidation request %s not found", id)
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return &req, nil
}

// TransitionRequest moves a request from one status to another, persisting
// the reason atomically. The update is conditional on the current status so a
// concurrent transition loses cleanly with CodeConflict.
func (s *Store) TransitionRequest(ctx context.Context, id uuid.UUID, from, to models.LiquidationStatus, reason string) error {
	updates := map[string]interface{}{
		"status":        to,
		"status_reason": reason,
		"updated_at":    time.Now().UTC(),
	}
	if to == models.LiquidationStatusCompleted {
		updates["completed_at"] = time.Now().UTC()
	}

	res := s.db.WithContext(ctx).
		Model(&models.LiquidationRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("transition request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeConflict, apperrors.StageLifecycle,
			"request %s is no longer in status %s", id, from)
	}
	s.logger.Info("request transitioned",
		zap.String("request_id", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	return nil
}

// UpdateRequestFields applies partial field updates without touching status.
func (s *Store) UpdateRequestFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.LiquidationRequest{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update request fields: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeNotFound, apperrors.StageLifecycle, "liquidation request %s not found", id)
	}
	return nil
}

// MarkCancelRequested sets the cooperative cancellation flag.
func (s *Store) MarkCancelRequested(ctx context.Context, id uuid.UUID) error {
	return s.UpdateRequestFields(ctx, id, map[string]interface{}{"cancel_requested": true})
}

// ListExpiredRequests returns non-terminal requests whose TTL elapsed.
func (s *Store) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]models.LiquidationRequest, error) {
	var reqs []models.LiquidationRequest
	err := s.db.WithContext(ctx).
		Where("expires_at < ? AND status NOT IN ?", now, terminalStatuses()).
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("list expired requests: %w", err)
	}
	return reqs, nil
}

// ListRequestsByStatus returns requests currently parked in a status.
func (s *Store) ListRequestsByStatus(ctx context.Context, status models.LiquidationStatus, limit int) ([]models.LiquidationRequest, error) {
	var reqs []models.LiquidationRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at").
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("list requests by status: %w", err)
	}
	return reqs, nil
}

// SumCompletedSince totals the completed liquidation volume for a user and
// asset since the given instant. Used for rolling daily and monthly limits.
func (s *Store) SumCompletedSince(ctx context.Context, userID uuid.UUID, assetSymbol string, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := s.db.WithContext(ctx).
		Model(&models.LiquidationRequest{}).
		Select("SUM(amount)").
		Where("user_id = ? AND asset_symbol = ? AND status = ? AND completed_at >= ?",
			userID, assetSymbol, models.LiquidationStatusCompleted, since).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum completed since: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// LastCompletedAt returns when the user last completed a liquidation of the
// asset, or nil when they never have.
func (s *Store) LastCompletedAt(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error) {
	var req models.LiquidationRequest
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND asset_symbol = ? AND status = ?",
			userID, assetSymbol, models.LiquidationStatusCompleted).
		Order("completed_at DESC").
		First(&req).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("last completed at: %w", err)
	}
	return req.CompletedAt, nil
}

func terminalStatuses() []models.LiquidationStatus {
	return []models.LiquidationStatus{
		models.LiquidationStatusCompleted,
		models.LiquidationStatusCancelled,
		models.LiquidationStatusFailed,
		models.LiquidationStatusRejected,
	}
}
