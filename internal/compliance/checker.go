package compliance

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/assetflow/liquidation-engine/pkg/models"
)

// Subject is the screening input derived from a liquidation request.
type Subject struct {
	RequestID          uuid.UUID
	UserID             uuid.UUID
	AssetSymbol        string
	Amount             decimal.Decimal
	OutputSymbol       string
	EstimatedOutput    decimal.Decimal
	DestinationType    models.DestinationType
	DestinationAddress string
	DestinationCountry string
	RiskLevel          models.RiskLevel
}

// Result is the verdict of one screening attempt.
type Result struct {
	Result    models.CheckResult
	RiskScore float64
	RiskLevel models.RiskLevel
	Detail    string
}

// Checker runs one typed screening. Implementations return an error only for
// infrastructure faults (which are retried); business verdicts, including
// Failed and RequiresReview, come back as a Result.
type Checker interface {
	Type() models.CheckType
	Run(ctx context.Context, subject Subject) (*Result, error)
}

// CheckProvider is the external compliance decision engine.
type CheckProvider interface {
	RunCheck(ctx context.Context, checkType models.CheckType, subject Subject) (*Result, error)
}

// providerChecker adapts the external provider to one check type.
type providerChecker struct {
	checkType models.CheckType
	provider  CheckProvider
}

func (c *providerChecker) Type() models.CheckType { return c.checkType }

func (c *providerChecker) Run(ctx context.Context, subject Subject) (*Result, error) {
	return c.provider.RunCheck(ctx, c.checkType, subject)
}

// NewProviderCheckers builds the standard checker table, one per check type,
// all backed by the external decision engine.
func NewProviderCheckers(provider CheckProvider) map[models.CheckType]Checker {
	table := make(map[models.CheckType]Checker)
	for _, t := range []models.CheckType{
		models.CheckTypeKYC,
		models.CheckTypeAML,
		models.CheckTypeSanctions,
		models.CheckTypePEP,
		models.CheckTypeIllicitAddress,
		models.CheckTypeRiskAssessment,
	} {
		table[t] = &providerChecker{checkType: t, provider: provider}
	}
	return table
}
