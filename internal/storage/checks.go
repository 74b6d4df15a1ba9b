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

// CreateChecks inserts the pending check rows for a request's mandatory set.
func (s *Store) CreateChecks(ctx context.Context, checks []*models.ComplianceCheck) error {
	if len(checks) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(checks).Error; err != nil {
		return fmt.Errorf("create checks: %w", err)
	}
	return nil
}

// GetCheck loads a compliance check by id.
func (s *Store) GetCheck(ctx context.Context, id uuid.UUID) (*models.ComplianceCheck, error) {
	var check models.ComplianceCheck
	err := s.db.WithContext(ctx).First(&check, "id = ?", id).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotFound, apperrors.StageCompliance, "compliance check %s not found", id)
		}
		return nil, fmt.Errorf("get check: %w", err)
	}
	return &check, nil
}

// SaveCheck persists the full state of a check after an attempt or override.
func (s *Store) SaveCheck(ctx context.Context, check *models.ComplianceCheck) error {
	check.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(check).Error; err != nil {
		return fmt.Errorf("save check: %w", err)
	}
	return nil
}

// ListChecksByRequest returns all checks recorded for a request.
func (s *Store) ListChecksByRequest(ctx context.Context, requestID uuid.UUID) ([]models.ComplianceCheck, error) {
	var checks []models.ComplianceCheck
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at").
		Find(&checks).Error
	if err != nil {
		return nil, fmt.Errorf("list checks: %w", err)
	}
	return checks, nil
}
