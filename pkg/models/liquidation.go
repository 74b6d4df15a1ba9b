package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LiquidationStatus is the lifecycle state of a liquidation request.
type LiquidationStatus string

const (
	LiquidationStatusPending                     LiquidationStatus = "pending"
	LiquidationStatusKycVerificationInProgress   LiquidationStatus = "kyc_verification_in_progress"
	LiquidationStatusAssetVerificationInProgress LiquidationStatus = "asset_verification_in_progress"
	LiquidationStatusComplianceCheckInProgress   LiquidationStatus = "compliance_check_in_progress"
	LiquidationStatusAwaitingLiquidityProvider   LiquidationStatus = "awaiting_liquidity_provider"
	LiquidationStatusExecuting                   LiquidationStatus = "executing"
	LiquidationStatusTransferInProgress          LiquidationStatus = "transfer_in_progress"
	LiquidationStatusCompleted                   LiquidationStatus = "completed"
	LiquidationStatusCancelled                   LiquidationStatus = "cancelled"
	LiquidationStatusFailed                      LiquidationStatus = "failed"
	LiquidationStatusRejected                    LiquidationStatus = "rejected"
)

// IsTerminal reports whether no further transitions are possible.
func (s LiquidationStatus) IsTerminal() bool {
	switch s {
	case LiquidationStatusCompleted, LiquidationStatusCancelled, LiquidationStatusFailed, LiquidationStatusRejected:
		return true
	}
	return false
}

// OutputType is what the user receives for the liquidated asset.
type OutputType string

const (
	OutputTypeFiat       OutputType = "fiat"
	OutputTypeStablecoin OutputType = "stablecoin"
	OutputTypeCrypto     OutputType = "crypto"
)

// DestinationType is where the output is delivered.
type DestinationType string

const (
	DestinationTypeBankAccount     DestinationType = "bank_account"
	DestinationTypeWallet          DestinationType = "wallet"
	DestinationTypeInternalAccount DestinationType = "internal_account"
)

// RiskLevel classifies a request or screening result.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// LiquidationRequest is the aggregate root of a liquidation workflow.
// Status is owned exclusively by the orchestrator; transitions are persisted
// conditionally on the current status so races surface as stale updates.
type LiquidationRequest struct {
	ID                 uuid.UUID         `json:"id" gorm:"primaryKey;type:uuid"`
	UserID             uuid.UUID         `json:"user_id" gorm:"type:uuid;index"`
	IdempotencyKey     string            `json:"idempotency_key" gorm:"uniqueIndex;size:128"`
	AssetSymbol        string            `json:"asset_symbol" gorm:"index"`
	Amount             decimal.Decimal   `json:"amount" gorm:"type:numeric(30,8)"`
	OutputType         OutputType        `json:"output_type"`
	OutputSymbol       string            `json:"output_symbol"`
	DestinationType    DestinationType   `json:"destination_type"`
	DestinationAddress string            `json:"destination_address"`
	DestinationCountry string            `json:"destination_country"`
	Status             LiquidationStatus `json:"status" gorm:"index"`
	StatusReason       string            `json:"status_reason"`

	// Point-in-time estimate captured at creation; the executed rate comes
	// from the snapshot consumed at execution time.
	MarketPriceAtCreation decimal.Decimal `json:"market_price_at_creation" gorm:"type:numeric(30,8)"`
	EstimatedOutputAmount decimal.Decimal `json:"estimated_output_amount" gorm:"type:numeric(30,8)"`

	KYCVerified              bool      `json:"kyc_verified"`
	AssetEligibilityVerified bool      `json:"asset_eligibility_verified"`
	ComplianceApproved       bool      `json:"compliance_approved"`
	RequiresMultiSignature   bool      `json:"requires_multi_signature"`
	MultiSignatureApproved   bool      `json:"multi_signature_approved"`
	RiskLevel                RiskLevel `json:"risk_level"`

	ProviderID      *uuid.UUID `json:"provider_id,omitempty" gorm:"type:uuid;index"`
	CancelRequested bool       `json:"cancel_requested"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"index"`
}
