// Package liquidity selects and reserves a provider for a liquidation.
// Reservation is optimistic: the winning candidate's available liquidity is
// decremented atomically before execution and released if execution fails.
package liquidity

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/storage"
	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/metrics"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// Ranker orders candidate providers; the best candidate sorts first. The
// ordering is policy, not an invariant, so it stays pluggable.
type Ranker interface {
	Less(a, b *models.LiquidityProvider) bool
}

// DefaultRanker prefers, in order: lowest fee, highest rating, lowest average
// response time, highest available liquidity.
type DefaultRanker struct{}

func (DefaultRanker) Less(a, b *models.LiquidityProvider) bool {
	if !a.FeePercentage.Equal(b.FeePercentage) {
		return a.FeePercentage.LessThan(b.FeePercentage)
	}
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if a.AverageResponseTimeMinutes != b.AverageResponseTimeMinutes {
		return a.AverageResponseTimeMinutes < b.AverageResponseTimeMinutes
	}
	return a.AvailableLiquidity.GreaterThan(b.AvailableLiquidity)
}

// Matcher selects an eligible, available provider for a request.
type Matcher struct {
	store  *storage.Store
	ranker Ranker
	logger *zap.Logger
}

// NewMatcher builds a matcher; a nil ranker gets the default ordering.
func NewMatcher(store *storage.Store, ranker Ranker, logger *zap.Logger) *Matcher {
	if ranker == nil {
		ranker = DefaultRanker{}
	}
	return &Matcher{store: store, ranker: ranker, logger: logger}
}

// SelectProvider filters candidates, ranks them, and reserves liquidity from
// the best one that still has capacity. Losing a reservation race is not an
// error; the candidate is simply skipped for this attempt. No candidate left
// yields CodeNoLiquidityAvailable, which parks the request rather than
// failing it.
func (m *Matcher) SelectProvider(ctx context.Context, assetSymbol, outputSymbol string, amount decimal.Decimal) (*models.LiquidityProvider, error) {
	candidates, err := m.store.ListCandidateProviders(ctx, amount)
	if err != nil {
		return nil, err
	}

	eligible := make([]*models.LiquidityProvider, 0, len(candidates))
	for i := range candidates {
		p := &candidates[i]
		if !p.SupportedAssets.Contains(assetSymbol) {
			continue
		}
		if !p.SupportedCurrencies.Contains(outputSymbol) {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return m.ranker.Less(eligible[i], eligible[j])
	})

	for _, p := range eligible {
		ok, err := m.store.ReserveLiquidity(ctx, p.ID, amount)
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.ProviderReservations.WithLabelValues("lost").Inc()
			continue
		}
		metrics.ProviderReservations.WithLabelValues("won").Inc()
		m.logger.Info("provider matched",
			zap.String("provider_id", p.ID.String()),
			zap.String("provider", p.Name),
			zap.String("asset", assetSymbol),
			zap.String("amount", amount.String()))
		return p, nil
	}

	return nil, apperrors.New(apperrors.CodeNoLiquidityAvailable, apperrors.StageMatching,
		"no provider can fund %s %s to %s", amount, assetSymbol, outputSymbol).AsRetryable()
}

// Release returns a reservation after a failed execution.
func (m *Matcher) Release(ctx context.Context, providerID uuid.UUID, amount decimal.Decimal) error {
	return m.store.ReleaseLiquidity(ctx, providerID, amount)
}
