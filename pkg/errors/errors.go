// Package errors carries the machine-readable error taxonomy of the
// liquidation engine. Expected business outcomes (ineligibility, compliance
// rejection, no liquidity, expired price) are typed values with a reason code
// and the stage that produced them, so callers can distinguish "try again
// later" from "this request cannot proceed" from "contact support".
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard error functions re-exported for callers.
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Code is a machine-readable reason code.
type Code string

const (
	CodeValidation               Code = "VALIDATION_ERROR"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeConflict                 Code = "CONFLICT"
	CodeNotEligible              Code = "NOT_ELIGIBLE"
	CodeComplianceRejected       Code = "COMPLIANCE_REJECTED"
	CodeComplianceReviewRequired Code = "COMPLIANCE_REVIEW_REQUIRED"
	CodeNoLiquidityAvailable     Code = "NO_LIQUIDITY_AVAILABLE"
	CodePriceExpiredOrConsumed   Code = "PRICE_EXPIRED_OR_CONSUMED"
	CodePriceUnsuitable          Code = "PRICE_UNSUITABLE"
	CodeExecutionFailed          Code = "EXECUTION_FAILED"
	CodeReversalRejected         Code = "REVERSAL_REJECTED"
	CodeCancellationRejected     Code = "CANCELLATION_REJECTED"
	CodeTimeout                  Code = "TIMEOUT"
	CodeInternal                 Code = "INTERNAL_ERROR"
)

// Stage names the workflow stage that surfaced the error.
type Stage string

const (
	StageValidation  Stage = "validation"
	StageEligibility Stage = "eligibility"
	StageQuote       Stage = "quote"
	StageCompliance  Stage = "compliance"
	StageMatching    Stage = "matching"
	StageExecution   Stage = "execution"
	StageLifecycle   Stage = "lifecycle"
)

// Error is the typed domain error.
type Error struct {
	Code      Code   `json:"code"`
	Stage     Stage  `json:"stage,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`

	cause error
}

var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Code, e.Stage, e.Message, e.cause)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Code, e.Stage, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New builds a domain error.
func New(code Code, stage Stage, format string, args ...interface{}) *Error {
	return &Error{Code: code, Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a domain error.
func Wrap(err error, code Code, stage Stage, format string, args ...interface{}) *Error {
	return &Error{Code: code, Stage: stage, Message: fmt.Sprintf(format, args...), cause: err}
}

// Retryable marks the error as safe to retry later.
func (e *Error) AsRetryable() *Error {
	e.Retryable = true
	return e
}

// CodeOf extracts the reason code, defaulting to CodeInternal for plain errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may retry later.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// HTTPStatus maps a reason code to the HTTP status the API surface returns.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeCancellationRejected, CodeReversalRejected:
		return http.StatusConflict
	case CodeNotEligible, CodeComplianceRejected:
		return http.StatusUnprocessableEntity
	case CodeComplianceReviewRequired:
		return http.StatusAccepted
	case CodeNoLiquidityAvailable, CodePriceExpiredOrConsumed, CodePriceUnsuitable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
