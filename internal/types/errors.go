package types

import (
	"errors"
	"fmt"
)

// The four failure kinds every operation reports. Callers discriminate
// with errors.Is; the wrapped message carries the specific reason.
var (
	ErrValidation    = errors.New("validation")    // malformed, zero or mismatched input
	ErrAuthorization = errors.New("authorization") // caller lacks the required role or registration
	ErrState         = errors.New("state")         // operation conflicts with current state
	ErrExternalCall  = errors.New("external call") // collateral transfer, delegate or target failed
)

// Validationf wraps a formatted reason as a ValidationError.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Authorizationf wraps a formatted reason as an AuthorizationError.
func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

// Statef wraps a formatted reason as a StateError.
func Statef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

// ExternalCallf wraps a formatted reason as an ExternalCallError.
func ExternalCallf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExternalCall, fmt.Sprintf(format, args...))
}
