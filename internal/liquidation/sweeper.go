package liquidation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/assetflow/liquidation-engine/internal/storage"
	apperrors "github.com/assetflow/liquidation-engine/pkg/errors"
	"github.com/assetflow/liquidation-engine/pkg/models"
)

const sweepBatchSize = 100

// Sweeper is the background janitor: it fails requests past their TTL,
// prunes unconsumed expired snapshots and re-drives requests parked waiting
// for liquidity.
type Sweeper struct {
	store  *storage.Store
	svc    *Service
	logger *zap.Logger
	sweep  time.Duration
	repoll time.Duration
	now    func() time.Time
}

func NewSweeper(store *storage.Store, svc *Service, sweep, repoll time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		svc:    svc,
		logger: logger,
		sweep:  sweep,
		repoll: repoll,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	sweepTicker := time.NewTicker(w.sweep)
	repollTicker := time.NewTicker(w.repoll)
	defer sweepTicker.Stop()
	defer repollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			w.SweepExpired(ctx)
		case <-repollTicker.C:
			w.RepollParked(ctx)
		}
	}
}

// SweepExpired fails every non-terminal request past its TTL. Transition
// conflicts mean another worker moved the request first and are ignored.
func (w *Sweeper) SweepExpired(ctx context.Context) {
	requests, err := w.store.ListExpiredRequests(ctx, w.now(), sweepBatchSize)
	if err != nil {
		w.logger.Error("list expired requests", zap.Error(err))
		return
	}
	pruned, err := w.store.PruneExpiredSnapshots(ctx, w.now())
	if err != nil {
		w.logger.Error("prune expired snapshots", zap.Error(err))
	} else if pruned > 0 {
		w.logger.Info("pruned expired snapshots", zap.Int64("count", pruned))
	}
	for i := range requests {
		req := requests[i]
		err := w.store.TransitionRequest(ctx, req.ID, req.Status, models.LiquidationStatusFailed, "expired")
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeConflict {
				continue
			}
			w.logger.Error("expire request",
				zap.String("request_id", req.ID.String()), zap.Error(err))
			continue
		}
		w.logger.Info("request expired",
			zap.String("request_id", req.ID.String()),
			zap.String("from", string(req.Status)))
	}
}

// RepollParked re-drives requests waiting for provider capacity or approvals.
func (w *Sweeper) RepollParked(ctx context.Context) {
	requests, err := w.store.ListRequestsByStatus(ctx, models.LiquidationStatusAwaitingLiquidityProvider, sweepBatchSize)
	if err != nil {
		w.logger.Error("list parked requests", zap.Error(err))
		return
	}
	for i := range requests {
		if err := w.svc.Process(ctx, requests[i].ID); err != nil {
			w.logger.Warn("re-drive parked request",
				zap.String("request_id", requests[i].ID.String()), zap.Error(err))
		}
	}
}
