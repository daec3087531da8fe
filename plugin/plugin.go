// Package plugin provides an extensible hook system for the paywall engine.
// Plugins implement any subset of the On* interfaces; the Registry discovers
// them at registration time.
package plugin

import (
	"context"
	"time"

	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/transaction"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Entitlement and usage hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked is called after a status read that reached the store.
type OnEntitlementChecked interface {
	Plugin
	OnEntitlementChecked(ctx context.Context, status *entitlement.Status) error
}

// OnUsageAuthorized is called when a paid operation is allowed to start.
type OnUsageAuthorized interface {
	Plugin
	OnUsageAuthorized(ctx context.Context, installID, source string) error
}

// OnUsageCommitted is called once the usage of a successful operation is counted.
type OnUsageCommitted interface {
	Plugin
	OnUsageCommitted(ctx context.Context, installID, source string) error
}

// OnPaywallHit is called when an install has neither free uses nor credits left.
type OnPaywallHit interface {
	Plugin
	OnPaywallHit(ctx context.Context, installID string, freeUsed, limit int64) error
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnReceiptVerified is called after every verifier round trip that produced a verdict.
type OnReceiptVerified interface {
	Plugin
	OnReceiptVerified(ctx context.Context, environment string, valid bool, elapsed time.Duration) error
}

// OnReceiptRejected is called when the platform refused a receipt.
type OnReceiptRejected interface {
	Plugin
	OnReceiptRejected(ctx context.Context, installID, productID, reason string) error
}

// OnPurchaseApplied is called when a transaction's effect reached the entitlement.
type OnPurchaseApplied interface {
	Plugin
	OnPurchaseApplied(ctx context.Context, r *transaction.Record) error
}

// OnPurchaseReplayed is called when an already applied transaction is submitted again.
type OnPurchaseReplayed interface {
	Plugin
	OnPurchaseReplayed(ctx context.Context, r *transaction.Record) error
}

// OnReconciled is called after a reconciliation pass.
type OnReconciled interface {
	Plugin
	OnReconciled(ctx context.Context, applied int, elapsed time.Duration) error
}
