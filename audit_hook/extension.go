// Package audithook turns paywall events into audit records.
//
// It defines a local Recorder interface so the paywall does not depend on any
// particular audit backend. Callers inject a RecorderFunc at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/erasekit/paywall/plugin"
	"github.com/erasekit/paywall/transaction"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnUsageCommitted   = (*Extension)(nil)
	_ plugin.OnPaywallHit       = (*Extension)(nil)
	_ plugin.OnReceiptRejected  = (*Extension)(nil)
	_ plugin.OnPurchaseApplied  = (*Extension)(nil)
	_ plugin.OnPurchaseReplayed = (*Extension)(nil)
	_ plugin.OnReconciled       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension records paywall events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageCommitted implements plugin.OnUsageCommitted.
func (e *Extension) OnUsageCommitted(ctx context.Context, installID, source string) error {
	return e.record(ctx, ActionUsageCommitted, SeverityInfo, OutcomeSuccess,
		ResourceEntitlement, installID, CategoryUsage, "",
		"source", source,
	)
}

// OnPaywallHit implements plugin.OnPaywallHit.
func (e *Extension) OnPaywallHit(ctx context.Context, installID string, freeUsed, limit int64) error {
	return e.record(ctx, ActionPaywallHit, SeverityInfo, OutcomeFailure,
		ResourceEntitlement, installID, CategoryAccess, "free quota exhausted",
		"free_used", freeUsed,
		"limit", limit,
	)
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnReceiptRejected implements plugin.OnReceiptRejected.
func (e *Extension) OnReceiptRejected(ctx context.Context, installID, productID, reason string) error {
	return e.record(ctx, ActionReceiptRejected, SeverityWarning, OutcomeFailure,
		ResourceReceipt, installID, CategoryPayment, reason,
		"product_id", productID,
	)
}

// OnPurchaseApplied implements plugin.OnPurchaseApplied.
func (e *Extension) OnPurchaseApplied(ctx context.Context, r *transaction.Record) error {
	return e.record(ctx, ActionPurchaseApplied, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, r.TransactionID, CategoryPayment, "",
		transactionMetadata(r)...,
	)
}

// OnPurchaseReplayed implements plugin.OnPurchaseReplayed.
func (e *Extension) OnPurchaseReplayed(ctx context.Context, r *transaction.Record) error {
	return e.record(ctx, ActionPurchaseReplayed, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, r.TransactionID, CategoryPayment, "transaction already applied",
		transactionMetadata(r)...,
	)
}

// OnReconciled implements plugin.OnReconciled. Empty passes are not recorded.
func (e *Extension) OnReconciled(ctx context.Context, applied int, elapsed time.Duration) error {
	if applied == 0 {
		return nil
	}
	return e.record(ctx, ActionReconciled, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, "", CategoryPayment, "",
		"applied", applied,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func transactionMetadata(r *transaction.Record) []any {
	return []any{
		"install_id", r.InstallID,
		"product_id", r.ProductID,
		"original_transaction_id", r.OriginalTransactionID,
		"environment", r.Environment,
		"credits_granted", r.CreditsGranted,
		"grants_pro", r.GrantsPro,
	}
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never fail the paywall operation.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
