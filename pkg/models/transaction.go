package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the state of a single execution attempt.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

// LiquidationTransaction is one execution attempt against a matched provider.
// A request may accumulate multiple attempts; exactly one may complete.
// Fields are written only by the transaction executor.
type LiquidationTransaction struct {
	ID         uuid.UUID         `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID  uuid.UUID         `json:"request_id" gorm:"type:uuid;index"`
	ProviderID uuid.UUID         `json:"provider_id" gorm:"type:uuid;index"`
	SnapshotID uuid.UUID         `json:"snapshot_id" gorm:"type:uuid"`
	Status     TransactionStatus `json:"status" gorm:"index"`

	ExchangeRate decimal.Decimal `json:"exchange_rate" gorm:"type:numeric(30,8)"`
	MarketPrice  decimal.Decimal `json:"market_price" gorm:"type:numeric(30,8)"`
	GrossAmount  decimal.Decimal `json:"gross_amount" gorm:"type:numeric(30,8)"`

	ProviderFee decimal.Decimal `json:"provider_fee" gorm:"type:numeric(30,8)"`
	PlatformFee decimal.Decimal `json:"platform_fee" gorm:"type:numeric(30,8)"`
	NetworkFee  decimal.Decimal `json:"network_fee" gorm:"type:numeric(30,8)"`
	TotalFees   decimal.Decimal `json:"total_fees" gorm:"type:numeric(30,8)"`
	NetAmount   decimal.Decimal `json:"net_amount" gorm:"type:numeric(30,8)"`

	TransferReference string `json:"transfer_reference,omitempty"`
	Confirmations     int    `json:"confirmations"`
	ErrorDetail       string `json:"error_detail,omitempty"`

	RetryAttempts int        `json:"retry_attempts"`
	MaxRetries    int        `json:"max_retries"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`

	IsReversible    bool       `json:"is_reversible"`
	ReversibleUntil *time.Time `json:"reversible_until,omitempty"`
	IsReversed      bool       `json:"is_reversed"`
	ReversalReason  string     `json:"reversal_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
