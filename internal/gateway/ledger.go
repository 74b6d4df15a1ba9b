package gateway

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerClient reads balances and holding ages from the external ledger.
type LedgerClient struct {
	client
}

func NewLedgerClient(baseURL string, timeout time.Duration, logger *zap.Logger) *LedgerClient {
	return &LedgerClient{client: newClient(baseURL, timeout, logger)}
}

func (c *LedgerClient) HasBalance(ctx context.Context, userID uuid.UUID, assetSymbol string, amount decimal.Decimal) (bool, error) {
	q := url.Values{}
	q.Set("asset", assetSymbol)
	q.Set("amount", amount.String())

	var resp struct {
		Sufficient bool `json:"sufficient"`
	}
	if err := c.getJSON(ctx, "/v1/users/"+userID.String()+"/balance-check", q, &resp); err != nil {
		return false, err
	}
	return resp.Sufficient, nil
}

func (c *LedgerClient) HeldSince(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error) {
	q := url.Values{}
	q.Set("asset", assetSymbol)

	var resp struct {
		HeldSince *time.Time `json:"held_since"`
	}
	if err := c.getJSON(ctx, "/v1/users/"+userID.String()+"/holdings", q, &resp); err != nil {
		return nil, err
	}
	return resp.HeldSince, nil
}
