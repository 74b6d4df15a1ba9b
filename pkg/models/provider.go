package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProviderStatus is the lifecycle of a liquidity provider record.
// Providers are never deleted; they move between soft statuses.
type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "pending"
	ProviderStatusActive    ProviderStatus = "active"
	ProviderStatusInactive  ProviderStatus = "inactive"
	ProviderStatusSuspended ProviderStatus = "suspended"
	ProviderStatusRejected  ProviderStatus = "rejected"
)

// StringList is a JSON-encoded string set stored in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type %T for StringList", value)
	}
}

// Contains reports set membership.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// LiquidityProvider is a registered counterparty able to fund liquidations.
type LiquidityProvider struct {
	ID     uuid.UUID      `json:"id" gorm:"primaryKey;type:uuid"`
	Name   string         `json:"name" gorm:"uniqueIndex"`
	Status ProviderStatus `json:"status" gorm:"index"`

	SupportedAssets     StringList `json:"supported_assets" gorm:"type:text"`
	SupportedCurrencies StringList `json:"supported_currencies" gorm:"type:text"`

	MinimumTransactionAmount decimal.Decimal `json:"minimum_transaction_amount" gorm:"type:numeric(30,8)"`
	MaximumTransactionAmount decimal.Decimal `json:"maximum_transaction_amount" gorm:"type:numeric(30,8)"`
	FeePercentage            decimal.Decimal `json:"fee_percentage" gorm:"type:numeric(10,4)"`
	AvailableLiquidity       decimal.Decimal `json:"available_liquidity" gorm:"type:numeric(30,8)"`

	Rating                     float64 `json:"rating"`
	AverageResponseTimeMinutes float64 `json:"average_response_time_minutes"`
	IsAvailable                bool    `json:"is_available"`

	SuccessfulLiquidations int64 `json:"successful_liquidations"`
	FailedLiquidations     int64 `json:"failed_liquidations"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
