package gateway

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/quote"
)

// PricingClient fetches market observations from the pricing service.
type PricingClient struct {
	client
}

var _ quote.PriceSource = (*PricingClient)(nil)

func NewPricingClient(baseURL string, timeout time.Duration, logger *zap.Logger) *PricingClient {
	return &PricingClient{client: newClient(baseURL, timeout, logger)}
}

func (c *PricingClient) GetPrice(ctx context.Context, assetSymbol, outputSymbol string) (*quote.Observation, error) {
	q := url.Values{}
	q.Set("asset", assetSymbol)
	q.Set("output", outputSymbol)

	var obs quote.Observation
	if err := c.getJSON(ctx, "/v1/prices", q, &obs); err != nil {
		return nil, err
	}
	return &obs, nil
}
