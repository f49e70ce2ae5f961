package services

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound             ErrorType = "not_found"
	ErrorTypeValidation           ErrorType = "validation"
	ErrorTypeForcedBinding        ErrorType = "forced_binding_unavailable"
	ErrorTypeRateLimit            ErrorType = "rate_limited"
	ErrorTypeGroupEmpty           ErrorType = "group_empty"
	ErrorTypeConcurrencySaturated ErrorType = "concurrency_saturated"
	ErrorTypeExhausted            ErrorType = "no_eligible_account"
	ErrorTypeInternal             ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables
//
// These are the hard-fail errors the scheduler surfaces to its caller.
// Availability fallthrough inside binding resolution is internal and never
// produces an error by itself.

var (
	// Not Found Errors
	ErrAccountNotFound = NewDomainError(ErrorTypeNotFound, "account not found", nil)
	ErrGroupNotFound   = NewDomainError(ErrorTypeNotFound, "group not found", nil)

	// Validation Errors
	ErrInvalidInput       = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidAccountType = NewDomainError(ErrorTypeValidation, "invalid account type", nil)
	ErrInvalidBinding     = NewDomainError(ErrorTypeValidation, "invalid binding reference", nil)

	// ErrForcedBindingUnavailable signals that a caller-pinned account failed
	// its availability check. There is no fallback for forced bindings.
	ErrForcedBindingUnavailable = NewDomainError(ErrorTypeForcedBinding, "forced-binding account unavailable", nil)

	// ErrDedicatedAccountRateLimited signals that a directly bound oauth
	// account is rate-limited. It never falls through to another family or
	// to the pool; the reset time travels in the "reset_at" detail.
	ErrDedicatedAccountRateLimited = NewDomainError(ErrorTypeRateLimit, "dedicated account rate limited", nil)

	// ErrGroupEmpty signals that a group resolved but no member is eligible.
	// Groups never fall back to the ungrouped shared pool.
	ErrGroupEmpty = NewDomainError(ErrorTypeGroupEmpty, "group has no eligible accounts", nil)

	// ErrPoolConcurrencySaturated signals that every rejected console
	// candidate failed only the concurrency admission check. Callers should
	// map this to a retryable status.
	ErrPoolConcurrencySaturated = NewDomainError(ErrorTypeConcurrencySaturated, "all pool accounts at concurrency limit", nil)

	// ErrNoEligibleAccount is the generic exhaustion error.
	ErrNoEligibleAccount = NewDomainError(ErrorTypeExhausted, "no eligible account available", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal error", nil)
)

// DetailResetAt is the Details key carrying a rate-limit reset time.
const DetailResetAt = "reset_at"

// DetailAccountID is the Details key carrying the offending account id.
const DetailAccountID = "account_id"

// RateLimitedWithReset builds a DedicatedAccountRateLimited error carrying
// the account id and, when known, the upstream reset time.
func RateLimitedWithReset(accountID string, resetAt *time.Time) *DomainError {
	err := NewDomainError(ErrorTypeRateLimit, "dedicated account rate limited", nil).
		WithDetail(DetailAccountID, accountID)
	if resetAt != nil {
		err = err.WithDetail(DetailResetAt, resetAt.UTC().Format(time.RFC3339))
	}
	return err
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsForcedBindingError checks if an error is a forced-binding failure
func IsForcedBindingError(err error) bool {
	return GetErrorType(err) == ErrorTypeForcedBinding
}

// IsRateLimitError checks if an error is a dedicated rate-limit error
func IsRateLimitError(err error) bool {
	return GetErrorType(err) == ErrorTypeRateLimit
}

// IsGroupEmptyError checks if an error is a group exhaustion error
func IsGroupEmptyError(err error) bool {
	return GetErrorType(err) == ErrorTypeGroupEmpty
}

// IsConcurrencySaturatedError checks if an error is a concurrency saturation error
func IsConcurrencySaturatedError(err error) bool {
	return GetErrorType(err) == ErrorTypeConcurrencySaturated
}

// IsNoEligibleAccountError checks if an error is the generic exhaustion error
func IsNoEligibleAccountError(err error) bool {
	return GetErrorType(err) == ErrorTypeExhausted
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
