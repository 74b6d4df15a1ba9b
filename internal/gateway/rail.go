package gateway

import (
	"context"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/executor"
)

// RailClient submits transfers to the settlement rail.
type RailClient struct {
	client
}

var _ executor.SettlementRail = (*RailClient)(nil)

func NewRailClient(baseURL string, timeout time.Duration, logger *zap.Logger) *RailClient {
	return &RailClient{client: newClient(baseURL, timeout, logger)}
}

type transferResponse struct {
	Reference     string `json:"reference"`
	Confirmations int    `json:"confirmations"`
}

func (c *RailClient) Transfer(ctx context.Context, req executor.TransferRequest) (*executor.TransferReceipt, error) {
	var resp transferResponse
	if err := c.postJSON(ctx, "/v1/transfers", req, &resp); err != nil {
		return nil, err
	}
	return &executor.TransferReceipt{
		Reference:     resp.Reference,
		Confirmations: resp.Confirmations,
	}, nil
}

func (c *RailClient) Reverse(ctx context.Context, reference string) error {
	return c.postJSON(ctx, "/v1/transfers/"+url.PathEscape(reference)+"/reverse", nil, nil)
}

func (c *RailClient) EstimateNetworkFee(ctx context.Context, currency string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("currency", currency)

	var resp struct {
		Fee decimal.Decimal `json:"fee"`
	}
	if err := c.getJSON(ctx, "/v1/fees", q, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Fee, nil
}
