package eligibility

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/assetflow/liquidation-engine/internal/storage"
)

// HoldingsSource answers when a user acquired their current position in an
// asset. Holdings live in the external ledger.
type HoldingsSource interface {
	HeldSince(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error)
}

// StoreUsage derives rolling usage from the engine's own completed requests
// and delegates holding age to the ledger.
type StoreUsage struct {
	store    *storage.Store
	holdings HoldingsSource
	now      func() time.Time
}

func NewStoreUsage(store *storage.Store, holdings HoldingsSource) *StoreUsage {
	return &StoreUsage{
		store:    store,
		holdings: holdings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (u *StoreUsage) DailyTotal(ctx context.Context, userID uuid.UUID, assetSymbol string) (decimal.Decimal, error) {
	return u.store.SumCompletedSince(ctx, userID, assetSymbol, u.now().Add(-24*time.Hour))
}

func (u *StoreUsage) MonthlyTotal(ctx context.Context, userID uuid.UUID, assetSymbol string) (decimal.Decimal, error) {
	return u.store.SumCompletedSince(ctx, userID, assetSymbol, u.now().AddDate(0, 0, -30))
}

func (u *StoreUsage) LastLiquidationAt(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error) {
	return u.store.LastCompletedAt(ctx, userID, assetSymbol)
}

func (u *StoreUsage) HeldSince(ctx context.Context, userID uuid.UUID, assetSymbol string) (*time.Time, error) {
	return u.holdings.HeldSince(ctx, userID, assetSymbol)
}
