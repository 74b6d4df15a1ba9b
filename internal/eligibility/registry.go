// Package eligibility validates liquidation requests against per-asset
// static policy: amount bounds, rolling limits, holding and cooling-off
// periods, and jurisdiction restrictions. It makes no external calls beyond
// the usage tracker collaborator that supplies rolling totals.
package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/storage"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// UsageTracker supplies per-user rolling liquidation totals and history. The
// running totals are asserted by an external ledger-adjacent service.
type UsageTracker interface {
	DailyTotal(ctx context.Context, userID uuid.UUID, assetSymbol string) (decimal.Decimal, error)
	MonthlyTotal(ctx context.Context, userID uuid.UUID, assetSymbol string) (decimal.Decimal, error)
	LastLiquidationAt(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error)
	HeldSince(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error)
}

// Decision is the structured verdict of an eligibility check. A rejection
// always carries the specific rule that failed, never a generic error.
type Decision struct {
	Eligible               bool
	Reason                 string
	RequiresMultiSignature bool
}

// Registry evaluates asset liquidation policy.
type Registry struct {
	store  *storage.Store
	usage  UsageTracker
	logger *zap.Logger
}

// NewRegistry builds the eligibility registry.
func NewRegistry(store *storage.Store, usage UsageTracker, logger *zap.Logger) *Registry {
	return &Registry{store: store, usage: usage, logger: logger}
}

// CheckEligibility validates the asset, amount, rolling limits, holding
// periods and destination jurisdiction for a prospective liquidation.
func (r *Registry) CheckEligibility(ctx context.Context, userID uuid.UUID, assetSymbol string, amount decimal.Decimal, destinationCountry string) (Decision, error) {
	rule, err := r.store.GetAssetRule(ctx, assetSymbol)
	if err != nil {
		return Decision{Reason: fmt.Sprintf("asset %s is not enabled for liquidation", assetSymbol)}, nil
	}

	if d := checkAssetStatus(rule, destinationCountry); !d.Eligible {
		return d, nil
	}
	if d := checkJurisdiction(rule, destinationCountry); !d.Eligible {
		return d, nil
	}
	if d := checkAmountBounds(rule, amount); !d.Eligible {
		return d, nil
	}

	if d, err := r.checkRollingLimits(ctx, userID, rule, amount); err != nil {
		return Decision{}, err
	} else if !d.Eligible {
		return d, nil
	}

	if d, err := r.checkHoldingPeriods(ctx, userID, rule); err != nil {
		return Decision{}, err
	} else if !d.Eligible {
		return d, nil
	}

	return Decision{
		Eligible:               true,
		RequiresMultiSignature: rule.MultiSignatureThreshold.GreaterThan(decimal.Zero) && amount.GreaterThan(rule.MultiSignatureThreshold),
	}, nil
}

func checkAssetStatus(rule *models.AssetRule, destinationCountry string) Decision {
	switch rule.Status {
	case models.AssetStatusEligible:
		return Decision{Eligible: true}
	case models.AssetStatusRestricted:
		// Restricted assets are usable only through an explicit allow-list.
		if rule.AllowedCountries.Contains(destinationCountry) {
			return Decision{Eligible: true}
		}
		return Decision{Reason: fmt.Sprintf("asset %s is restricted and %s is not on its allow-list", rule.AssetSymbol, destinationCountry)}
	default:
		return Decision{Reason: fmt.Sprintf("asset %s is not eligible for liquidation", rule.AssetSymbol)}
	}
}

func checkJurisdiction(rule *models.AssetRule, destinationCountry string) Decision {
	if len(rule.AllowedCountries) > 0 {
		if !rule.AllowedCountries.Contains(destinationCountry) {
			return Decision{Reason: fmt.Sprintf("destination jurisdiction %s is not on the allow-list for %s", destinationCountry, rule.AssetSymbol)}
		}
		return Decision{Eligible: true}
	}
	if rule.RestrictedCountries.Contains(destinationCountry) {
		return Decision{Reason: fmt.Sprintf("destination jurisdiction %s is restricted for %s", destinationCountry, rule.AssetSymbol)}
	}
	return Decision{Eligible: true}
}

func checkAmountBounds(rule *models.AssetRule, amount decimal.Decimal) Decision {
	if amount.LessThan(rule.MinimumLiquidationAmount) {
		return Decision{Reason: fmt.Sprintf("amount %s is below the minimum %s for %s", amount, rule.MinimumLiquidationAmount, rule.AssetSymbol)}
	}
	if rule.MaximumLiquidationAmount.GreaterThan(decimal.Zero) && amount.GreaterThan(rule.MaximumLiquidationAmount) {
		return Decision{Reason: fmt.Sprintf("amount %s exceeds the maximum %s for %s", amount, rule.MaximumLiquidationAmount, rule.AssetSymbol)}
	}
	return Decision{Eligible: true}
}

func (r *Registry) checkRollingLimits(ctx context.Context, userID uuid.UUID, rule *models.AssetRule, amount decimal.Decimal) (Decision, error) {
	if rule.DailyLimit.GreaterThan(decimal.Zero) {
		daily, err := r.usage.DailyTotal(ctx, userID, rule.AssetSymbol)
		if err != nil {
			return Decision{}, fmt.Errorf("daily total for %s: %w", rule.AssetSymbol, err)
		}
		if daily.Add(amount).GreaterThan(rule.DailyLimit) {
			return Decision{Reason: fmt.Sprintf("daily liquidation limit %s for %s would be exceeded", rule.DailyLimit, rule.AssetSymbol)}, nil
		}
	}
	if rule.MonthlyLimit.GreaterThan(decimal.Zero) {
		monthly, err := r.usage.MonthlyTotal(ctx, userID, rule.AssetSymbol)
		if err != nil {
			return Decision{}, fmt.Errorf("monthly total for %s: %w", rule.AssetSymbol, err)
		}
		if monthly.Add(amount).GreaterThan(rule.MonthlyLimit) {
			return Decision{Reason: fmt.Sprintf("monthly liquidation limit %s for %s would be exceeded", rule.MonthlyLimit, rule.AssetSymbol)}, nil
		}
	}
	return Decision{Eligible: true}, nil
}

func (r *Registry) checkHoldingPeriods(ctx context.Context, userID uuid.UUID, rule *models.AssetRule) (Decision, error) {
	now := time.Now().UTC()

	if rule.MinimumHoldingPeriodDays > 0 {
		heldSince, err := r.usage.HeldSince(ctx, userID, rule.AssetSymbol)
		if err != nil {
			return Decision{}, fmt.Errorf("held since for %s: %w", rule.AssetSymbol, err)
		}
		minHold := time.Duration(rule.MinimumHoldingPeriodDays) * 24 * time.Hour
		if heldSince == nil || now.Sub(*heldSince) < minHold {
			return Decision{Reason: fmt.Sprintf("minimum holding period of %d days for %s is not satisfied", rule.MinimumHoldingPeriodDays, rule.AssetSymbol)}, nil
		}
	}

	if rule.CoolingOffPeriodHours > 0 {
		last, err := r.usage.LastLiquidationAt(ctx, userID, rule.AssetSymbol)
		if err != nil {
			return Decision{}, fmt.Errorf("last liquidation for %s: %w", rule.AssetSymbol, err)
		}
		coolOff := time.Duration(rule.CoolingOffPeriodHours) * time.Hour
		if last != nil && now.Sub(*last) < coolOff {
			return Decision{Reason: fmt.Sprintf("cooling-off period of %d hours since the last %s liquidation is not satisfied", rule.CoolingOffPeriodHours, rule.AssetSymbol)}, nil
		}
	}

	return Decision{Eligible: true}, nil
}
