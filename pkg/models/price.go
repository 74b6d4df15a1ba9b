package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketPriceSnapshot is an immutable, time-boxed price observation for an
// asset/output pair. A snapshot may be consumed by at most one liquidation
// transaction; once used or expired it must never be reused.
type MarketPriceSnapshot struct {
	ID           uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID    *uuid.UUID `json:"request_id,omitempty" gorm:"type:uuid;index"`
	AssetSymbol  string     `json:"asset_symbol" gorm:"index"`
	OutputSymbol string     `json:"output_symbol"`

	Price  decimal.Decimal `json:"price" gorm:"type:numeric(30,8)"`
	Bid    decimal.Decimal `json:"bid" gorm:"type:numeric(30,8)"`
	Ask    decimal.Decimal `json:"ask" gorm:"type:numeric(30,8)"`
	Spread decimal.Decimal `json:"spread" gorm:"type:numeric(30,8)"`

	High24h   decimal.Decimal `json:"high_24h" gorm:"type:numeric(30,8)"`
	Low24h    decimal.Decimal `json:"low_24h" gorm:"type:numeric(30,8)"`
	Volume24h decimal.Decimal `json:"volume_24h" gorm:"type:numeric(30,8)"`

	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`

	IsSuitableForLiquidation bool            `json:"is_suitable_for_liquidation"`
	SuitabilityReason        string          `json:"suitability_reason"`
	EstimatedSlippage        decimal.Decimal `json:"estimated_slippage" gorm:"type:numeric(10,6)"`
	MinTransactionSize       decimal.Decimal `json:"min_transaction_size" gorm:"type:numeric(30,8)"`
	MaxTransactionSize       decimal.Decimal `json:"max_transaction_size" gorm:"type:numeric(30,8)"`

	ValidityMinutes int       `json:"validity_minutes"`
	ExpiresAt       time.Time `json:"expires_at" gorm:"index"`

	IsUsedForLiquidation bool       `json:"is_used_for_liquidation"`
	UsedByTransactionID  *uuid.UUID `json:"used_by_transaction_id,omitempty" gorm:"type:uuid"`

	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the snapshot's validity window has elapsed.
func (s *MarketPriceSnapshot) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsConsumable reports whether the snapshot can still back a transaction.
func (s *MarketPriceSnapshot) IsConsumable(now time.Time) bool {
	return !s.IsUsedForLiquidation && !s.IsExpired(now)
}
