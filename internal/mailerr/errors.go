// Package mailerr defines the error taxonomy shared by connectors, the
// account manager and the deletion coordinator.
package mailerr

import (
	"errors"
	"fmt"
)

// AuthError indicates an expired or invalid credential. It is user-actionable
// and never retried automatically.
type AuthError struct {
	Provider string
	Account  string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s %s): %v", e.Provider, e.Account, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates a transient transport failure. Callers may retry
// with backoff.
type NetworkError struct {
	Provider string
	Account  string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s %s): %v", e.Provider, e.Account, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProviderError indicates the backend rejected an operation (quota,
// permission, unknown message). Denied is set for permission refusals on
// otherwise valid credentials.
type ProviderError struct {
	Provider string
	Account  string
	Op       string
	Denied   bool
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s %s) %s: %v", e.Provider, e.Account, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError is returned for bad input before anything is dispatched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Validation is a shorthand for building a *ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsAuth reports whether err (or any error in its chain) is an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsNetwork reports whether err (or any error in its chain) is a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsProvider reports whether err (or any error in its chain) is a ProviderError.
func IsProvider(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

// IsDenied reports whether err is a ProviderError refusing permission.
func IsDenied(err error) bool {
	var target *ProviderError
	return errors.As(err, &target) && target.Denied
}

// IsValidation reports whether err (or any error in its chain) is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Kind returns a short machine-readable name for the error class.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsAuth(err):
		return "auth"
	case IsNetwork(err):
		return "network"
	case IsValidation(err):
		return "validation"
	case IsDenied(err):
		return "permission"
	case IsProvider(err):
		return "provider"
	default:
		return "internal"
	}
}
