package models

import (
	"time"

	"github.com/google/uuid"
)

// CheckType is a typed regulatory screening gating a liquidation.
type CheckType string

const (
	CheckTypeKYC            CheckType = "kyc"
	CheckTypeAML            CheckType = "aml"
	CheckTypeSanctions      CheckType = "sanctions"
	CheckTypePEP            CheckType = "pep"
	CheckTypeIllicitAddress CheckType = "illicit_address"
	CheckTypeRiskAssessment CheckType = "risk_assessment"
)

// CheckResult is the outcome of a single compliance check.
type CheckResult string

const (
	CheckResultPending        CheckResult = "pending"
	CheckResultPassed         CheckResult = "passed"
	CheckResultFailed         CheckResult = "failed"
	CheckResultRequiresReview CheckResult = "requires_review"
	CheckResultSkipped        CheckResult = "skipped"
)

// IsTerminal reports whether the check needs no further processing.
func (r CheckResult) IsTerminal() bool {
	switch r {
	case CheckResultPassed, CheckResultFailed, CheckResultSkipped:
		return true
	}
	return false
}

// ComplianceCheck is one typed screening attempt tied to a request.
// Results are written only by the compliance orchestrator; manual overrides
// preserve the original result for audit.
type ComplianceCheck struct {
	ID        uuid.UUID   `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID uuid.UUID   `json:"request_id" gorm:"type:uuid;index"`
	Type      CheckType   `json:"type" gorm:"index"`
	Result    CheckResult `json:"result"`
	RiskScore float64     `json:"risk_score"`
	RiskLevel RiskLevel   `json:"risk_level"`
	Detail    string      `json:"detail"`
	LastError string      `json:"last_error,omitempty"`

	RetryAttempts int        `json:"retry_attempts"`
	MaxRetries    int        `json:"max_retries"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`

	IsOverridden   bool        `json:"is_overridden"`
	OverriddenBy   *uuid.UUID  `json:"overridden_by,omitempty" gorm:"type:uuid"`
	OriginalResult CheckResult `json:"original_result,omitempty"`
	OverrideReason string      `json:"override_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
