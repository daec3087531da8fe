// Package store declares the unified persistence contract for the paywall.
// Backends live in the subpackages: memory, postgres, sqlite and mongo.
package store

import (
	"context"

	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/transaction"
)

// Store is the unified storage interface for entitlements and the
// transaction ledger.
type Store interface {
	entitlement.Store
	transaction.Store

	// ApplyTransaction marks the ledger row applied and applies its effect to
	// the owning entitlement in one atomic unit. It returns false when the row
	// had already been applied.
	ApplyTransaction(ctx context.Context, transactionID string) (bool, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
