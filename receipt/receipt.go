// Package receipt verifies platform purchase receipts and extracts the
// canonical transaction the paywall ledger records.
package receipt

import (
	"context"
	"errors"
	"time"
)

// PlatformIOS is the only supported platform tag.
const PlatformIOS = "ios"

// ErrTransport marks failures talking to the platform verification service.
// A rejected receipt is not an error; it is a Result with Valid == false.
var ErrTransport = errors.New("receipt: verification transport failure")

// Request is a receipt to verify for a claimed product.
type Request struct {
	Platform  string
	ProductID string
	Receipt   string
}

// Result is the outcome of a verification.
type Result struct {
	Valid                 bool
	Reason                string
	Status                int
	Environment           string
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	PurchasedAt           *time.Time
}

// Invalid builds a rejected result.
func Invalid(reason string) *Result {
	return &Result{Valid: false, Reason: reason}
}

// Verifier validates receipts against the platform.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Result, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, req Request) (*Result, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
