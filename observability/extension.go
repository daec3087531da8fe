// Package observability provides a metrics plugin for the paywall engine that
// records event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/plugin"
	"github.com/erasekit/paywall/transaction"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementChecked = (*MetricsExtension)(nil)
	_ plugin.OnUsageAuthorized    = (*MetricsExtension)(nil)
	_ plugin.OnUsageCommitted     = (*MetricsExtension)(nil)
	_ plugin.OnPaywallHit         = (*MetricsExtension)(nil)
	_ plugin.OnReceiptVerified    = (*MetricsExtension)(nil)
	_ plugin.OnReceiptRejected    = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseApplied    = (*MetricsExtension)(nil)
	_ plugin.OnPurchaseReplayed   = (*MetricsExtension)(nil)
	_ plugin.OnReconciled         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// usageSources are the charge sources a decision can carry.
var usageSources = []string{"bypass", "pro", "credit", "free"}

// MetricsExtension records paywall metrics.
// Register it as a plugin to track usage and purchase traffic.
type MetricsExtension struct {
	factory MetricFactory

	// Entitlement metrics
	StatusReads Counter
	ProStatus   Counter

	// Usage metrics
	UsageAuthorized map[string]Counter
	UsageCommitted  map[string]Counter
	PaywallHits     Counter

	// Receipt metrics
	ReceiptsValid   Counter
	ReceiptsInvalid Counter
	ReceiptRejected Counter
	VerifyLatency   Histogram

	// Purchase metrics
	PurchasesApplied  Counter
	PurchasesReplayed Counter
	CreditsGranted    Counter
	ProUnlocks        Counter

	// Reconciliation metrics
	ReconcileApplied Counter
	ReconcileLatency Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		factory: factory,

		StatusReads: factory.Counter("paywall.status.reads"),
		ProStatus:   factory.Counter("paywall.status.pro"),

		UsageAuthorized: make(map[string]Counter, len(usageSources)),
		UsageCommitted:  make(map[string]Counter, len(usageSources)),
		PaywallHits:     factory.Counter("paywall.usage.paywall_hits"),

		ReceiptsValid:   factory.Counter("paywall.receipt.valid"),
		ReceiptsInvalid: factory.Counter("paywall.receipt.invalid"),
		ReceiptRejected: factory.Counter("paywall.receipt.rejected"),
		VerifyLatency:   factory.Histogram("paywall.receipt.verify.latency_ms"),

		PurchasesApplied:  factory.Counter("paywall.purchase.applied"),
		PurchasesReplayed: factory.Counter("paywall.purchase.replayed"),
		CreditsGranted:    factory.Counter("paywall.purchase.credits_granted"),
		ProUnlocks:        factory.Counter("paywall.purchase.pro_unlocks"),

		ReconcileApplied: factory.Counter("paywall.reconcile.applied"),
		ReconcileLatency: factory.Histogram("paywall.reconcile.latency_ms"),
	}
	for _, src := range usageSources {
		m.UsageAuthorized[src] = factory.Counter("paywall.usage.authorized." + src)
		m.UsageCommitted[src] = factory.Counter("paywall.usage.committed." + src)
	}
	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement and usage hooks
// ──────────────────────────────────────────────────

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (m *MetricsExtension) OnEntitlementChecked(_ context.Context, status *entitlement.Status) error {
	m.StatusReads.Inc()
	if status != nil && status.IsPro {
		m.ProStatus.Inc()
	}
	return nil
}

// OnUsageAuthorized implements plugin.OnUsageAuthorized.
func (m *MetricsExtension) OnUsageAuthorized(_ context.Context, _, source string) error {
	if c, ok := m.UsageAuthorized[source]; ok {
		c.Inc()
	}
	return nil
}

// OnUsageCommitted implements plugin.OnUsageCommitted.
func (m *MetricsExtension) OnUsageCommitted(_ context.Context, _, source string) error {
	if c, ok := m.UsageCommitted[source]; ok {
		c.Inc()
	}
	return nil
}

// OnPaywallHit implements plugin.OnPaywallHit.
func (m *MetricsExtension) OnPaywallHit(_ context.Context, _ string, _, _ int64) error {
	m.PaywallHits.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Purchase hooks
// ──────────────────────────────────────────────────

// OnReceiptVerified implements plugin.OnReceiptVerified.
func (m *MetricsExtension) OnReceiptVerified(_ context.Context, _ string, valid bool, elapsed time.Duration) error {
	if valid {
		m.ReceiptsValid.Inc()
	} else {
		m.ReceiptsInvalid.Inc()
	}
	m.VerifyLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnReceiptRejected implements plugin.OnReceiptRejected.
func (m *MetricsExtension) OnReceiptRejected(_ context.Context, _, _, _ string) error {
	m.ReceiptRejected.Inc()
	return nil
}

// OnPurchaseApplied implements plugin.OnPurchaseApplied.
func (m *MetricsExtension) OnPurchaseApplied(_ context.Context, r *transaction.Record) error {
	m.PurchasesApplied.Inc()
	if r.CreditsGranted > 0 {
		m.CreditsGranted.Add(float64(r.CreditsGranted))
	}
	if r.GrantsPro {
		m.ProUnlocks.Inc()
	}
	return nil
}

// OnPurchaseReplayed implements plugin.OnPurchaseReplayed.
func (m *MetricsExtension) OnPurchaseReplayed(_ context.Context, _ *transaction.Record) error {
	m.PurchasesReplayed.Inc()
	return nil
}

// OnReconciled implements plugin.OnReconciled.
func (m *MetricsExtension) OnReconciled(_ context.Context, applied int, elapsed time.Duration) error {
	m.ReconcileApplied.Add(float64(applied))
	m.ReconcileLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}
