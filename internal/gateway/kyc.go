package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// KYCClient reads identity verification verdicts.
type KYCClient struct {
	client
}

func NewKYCClient(baseURL string, timeout time.Duration, logger *zap.Logger) *KYCClient {
	return &KYCClient{client: newClient(baseURL, timeout, logger)}
}

func (c *KYCClient) IsVerified(ctx context.Context, userID uuid.UUID) (bool, int, error) {
	var resp struct {
		Verified bool `json:"verified"`
		Tier     int  `json:"tier"`
	}
	if err := c.getJSON(ctx, "/v1/users/"+userID.String()+"/verification", nil, &resp); err != nil {
		return false, 0, err
	}
	return resp.Verified, resp.Tier, nil
}
