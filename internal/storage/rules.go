package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// UpsertAssetRule creates or replaces the liquidation policy for an asset.
func (s *Store) UpsertAssetRule(ctx context.Context, rule *models.AssetRule) error {
	rule.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "asset_symbol"}},
			UpdateAll: true,
		}).
		Create(rule).Error
	if err != nil {
		return fmt.Errorf("upsert asset rule: %w", err)
	}
	return nil
}

// GetAssetRule loads the policy for an asset symbol.
func (s *Store) GetAssetRule(ctx context.Context, assetSymbol string) (*models.AssetRule, error) {
	var rule models.AssetRule
	err := s.db.WithContext(ctx).First(&rule, "asset_symbol = ?", assetSymbol).Error
	if err != nil {
		if apperrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeNotEligible, apperrors.StageEligibility,
				"asset %s is not enabled for liquidation", assetSymbol)
		}
		return nil, fmt.Errorf("get asset rule: %w", err)
	}
	return &rule, nil
}
