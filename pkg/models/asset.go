package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetStatus controls whether an asset can currently be liquidated.
type AssetStatus string

const (
	AssetStatusEligible    AssetStatus = "eligible"
	AssetStatusNotEligible AssetStatus = "not_eligible"
	AssetStatusRestricted  AssetStatus = "restricted"
)

// AssetRule is the static per-asset liquidation policy consulted by the
// eligibility registry. Rules are keyed by asset symbol.
type AssetRule struct {
	AssetSymbol string      `json:"asset_symbol" gorm:"primaryKey"`
	Status      AssetStatus `json:"status"`

	MinimumLiquidationAmount decimal.Decimal `json:"minimum_liquidation_amount" gorm:"type:numeric(30,8)"`
	MaximumLiquidationAmount decimal.Decimal `json:"maximum_liquidation_amount" gorm:"type:numeric(30,8)"`
	DailyLimit               decimal.Decimal `json:"daily_limit" gorm:"type:numeric(30,8)"`
	MonthlyLimit             decimal.Decimal `json:"monthly_limit" gorm:"type:numeric(30,8)"`

	MinimumHoldingPeriodDays int `json:"minimum_holding_period_days"`
	CoolingOffPeriodHours    int `json:"cooling_off_period_hours"`

	// Amounts above the threshold require multi-signature approval before
	// execution begins.
	MultiSignatureThreshold decimal.Decimal `json:"multi_signature_threshold" gorm:"type:numeric(30,8)"`

	RequiredKYCTier int `json:"required_kyc_tier"`

	// When AllowedCountries is non-empty it acts as an allow-list and
	// RestrictedCountries is ignored.
	RestrictedCountries StringList `json:"restricted_countries" gorm:"type:text"`
	AllowedCountries    StringList `json:"allowed_countries" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
