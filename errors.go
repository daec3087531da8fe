package paywall

import (
	"errors"
	"fmt"

	"github.com/erasekit/paywall/cache"
	"github.com/erasekit/paywall/receipt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound     = errors.New("paywall: not found")
	ErrInvalidInput = errors.New("paywall: invalid input")
	ErrConflict     = errors.New("paywall: conflict")

	// Purchase errors
	ErrUnsupportedPlatform = errors.New("paywall: unsupported platform")
	ErrUnknownProduct      = errors.New("paywall: unknown product")
	ErrInvalidReceipt      = errors.New("paywall: invalid receipt")

	// ErrVerificationTransport is the verifier's transport sentinel, so both
	// errors.Is checks match.
	ErrVerificationTransport = receipt.ErrTransport

	// Usage errors
	ErrPaywallExceeded  = errors.New("paywall: free quota exhausted and no credits")
	ErrAlreadyCommitted = errors.New("paywall: decision already committed")

	// Store errors
	ErrStoreClosed = errors.New("paywall: store is closed")

	// Cache errors
	ErrCacheMiss = cache.ErrMiss
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("paywall: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// InvalidReceiptError is returned when the platform rejected a receipt.
type InvalidReceiptError struct {
	Reason string
	Status int
}

func (e *InvalidReceiptError) Error() string {
	if e.Reason == "" {
		return ErrInvalidReceipt.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidReceipt, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidReceipt.
func (e *InvalidReceiptError) Unwrap() error { return ErrInvalidReceipt }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the caller can fix err by changing the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnsupportedPlatform) ||
		errors.Is(err, ErrUnknownProduct) ||
		errors.Is(err, ErrInvalidReceipt) ||
		errors.Is(err, ErrPaywallExceeded) ||
		errors.Is(err, ErrAlreadyCommitted)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVerificationTransport) ||
		errors.Is(err, ErrConflict)
}
