package liquidation

import (
	"github.com/assetflow/liquidation-engine/pkg/models"
)

// allowedTransitions is the forward transition graph. Terminal alternates
// (cancelled, failed, rejected) are reachable from every non-terminal state;
// completed is reachable only through the full pipeline. Backward moves exist
// only as explicit operator overrides (reversal), which bypass this table and
// record their reason.
var allowedTransitions = map[models.LiquidationStatus][]models.LiquidationStatus{
	models.LiquidationStatusPending: {
		models.LiquidationStatusKycVerificationInProgress,
	},
	models.LiquidationStatusKycVerificationInProgress: {
		models.LiquidationStatusAssetVerificationInProgress,
	},
	models.LiquidationStatusAssetVerificationInProgress: {
		models.LiquidationStatusComplianceCheckInProgress,
	},
	models.LiquidationStatusComplianceCheckInProgress: {
		models.LiquidationStatusAwaitingLiquidityProvider,
	},
	models.LiquidationStatusAwaitingLiquidityProvider: {
		models.LiquidationStatusExecuting,
	},
	models.LiquidationStatusExecuting: {
		models.LiquidationStatusTransferInProgress,
	},
	models.LiquidationStatusTransferInProgress: {
		models.LiquidationStatusCompleted,
	},
}

// CanTransition reports whether from→to is a legal forward move.
func CanTransition(from, to models.LiquidationStatus) bool {
	if from.IsTerminal() {
		return false
	}
	switch to {
	case models.LiquidationStatusCancelled, models.LiquidationStatusFailed, models.LiquidationStatusRejected:
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanCancel reports whether a user may still cancel at this status. Once
// execution begins the only way back is the reversal path.
func CanCancel(status models.LiquidationStatus) bool {
	switch status {
	case models.LiquidationStatusPending,
		models.LiquidationStatusKycVerificationInProgress,
		models.LiquidationStatusAssetVerificationInProgress,
		models.LiquidationStatusComplianceCheckInProgress,
		models.LiquidationStatusAwaitingLiquidityProvider:
		return true
	}
	return false
}
