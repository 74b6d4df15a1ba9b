package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/compliance"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// ScreeningClient runs typed compliance checks against the external decision
// engine.
type ScreeningClient struct {
	client
}

var _ compliance.CheckProvider = (*ScreeningClient)(nil)

func NewScreeningClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ScreeningClient {
	return &ScreeningClient{client: newClient(baseURL, timeout, logger)}
}

type screeningRequest struct {
	CheckType          models.CheckType       `json:"check_type"`
	RequestID          uuid.UUID              `json:"request_id"`
	UserID             uuid.UUID              `json:"user_id"`
	AssetSymbol        string                 `json:"asset_symbol"`
	Amount             decimal.Decimal        `json:"amount"`
	OutputSymbol       string                 `json:"output_symbol"`
	EstimatedOutput    decimal.Decimal        `json:"estimated_output"`
	DestinationType    models.DestinationType `json:"destination_type"`
	DestinationAddress string                 `json:"destination_address"`
	DestinationCountry string                 `json:"destination_country"`
	RiskLevel          models.RiskLevel       `json:"risk_level"`
}

type screeningResponse struct {
	Result    models.CheckResult `json:"result"`
	RiskScore float64            `json:"risk_score"`
	RiskLevel models.RiskLevel   `json:"risk_level"`
	Detail    string             `json:"detail"`
}

func (c *ScreeningClient) RunCheck(ctx context.Context, checkType models.CheckType, subject compliance.Subject) (*compliance.Result, error) {
	req := screeningRequest{
		CheckType:          checkType,
		RequestID:          subject.RequestID,
		UserID:             subject.UserID,
		AssetSymbol:        subject.AssetSymbol,
		Amount:             subject.Amount,
		OutputSymbol:       subject.OutputSymbol,
		EstimatedOutput:    subject.EstimatedOutput,
		DestinationType:    subject.DestinationType,
		DestinationAddress: subject.DestinationAddress,
		DestinationCountry: subject.DestinationCountry,
		RiskLevel:          subject.RiskLevel,
	}
	var resp screeningResponse
	if err := c.postJSON(ctx, "/v1/checks", req, &resp); err != nil {
		return nil, err
	}
	return &compliance.Result{
		Result:    resp.Result,
		RiskScore: resp.RiskScore,
		RiskLevel: resp.RiskLevel,
		Detail:    resp.Detail,
	}, nil
}
