package errors

import (
	"errors"
	"fmt"
)

var (
	// General validation errors
	ErrInvalidInput  = errors.New("invalid input")
	ErrRequiredField = errors.New("required field is missing")
	ErrInvalidFormat = errors.New("invalid format")

	// Specific field validation errors
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidCouponType = errors.New("invalid coupon type")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// ValidationError wraps a field validation error
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s': %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidation reports whether err is a validation-class error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrRequiredField) ||
		errors.Is(err, ErrCouponNotRedeemable) ||
		errors.Is(err, ErrCouponAlreadyUsed) ||
		errors.Is(err, ErrCouponRoleMismatch) ||
		errors.Is(err, ErrCouponIssuerInactive)
}
