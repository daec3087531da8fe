package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/transaction"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches events to the ones
// that implement each hook. Hook lists are resolved once at Register time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onEntitlementChecked []OnEntitlementChecked
	onUsageAuthorized    []OnUsageAuthorized
	onUsageCommitted     []OnUsageCommitted
	onPaywallHit         []OnPaywallHit
	onReceiptVerified    []OnReceiptVerified
	onReceiptRejected    []OnReceiptRejected
	onPurchaseApplied    []OnPurchaseApplied
	onPurchaseReplayed   []OnPurchaseReplayed
	onReconciled         []OnReconciled
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnEntitlementChecked); ok {
		r.onEntitlementChecked = append(r.onEntitlementChecked, v)
	}
	if v, ok := p.(OnUsageAuthorized); ok {
		r.onUsageAuthorized = append(r.onUsageAuthorized, v)
	}
	if v, ok := p.(OnUsageCommitted); ok {
		r.onUsageCommitted = append(r.onUsageCommitted, v)
	}
	if v, ok := p.(OnPaywallHit); ok {
		r.onPaywallHit = append(r.onPaywallHit, v)
	}
	if v, ok := p.(OnReceiptVerified); ok {
		r.onReceiptVerified = append(r.onReceiptVerified, v)
	}
	if v, ok := p.(OnReceiptRejected); ok {
		r.onReceiptRejected = append(r.onReceiptRejected, v)
	}
	if v, ok := p.(OnPurchaseApplied); ok {
		r.onPurchaseApplied = append(r.onPurchaseApplied, v)
	}
	if v, ok := p.(OnPurchaseReplayed); ok {
		r.onPurchaseReplayed = append(r.onPurchaseReplayed, v)
	}
	if v, ok := p.(OnReconciled); ok {
		r.onReconciled = append(r.onReconciled, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnEntitlementChecked", reflect.TypeFor[OnEntitlementChecked]()},
	{"OnUsageAuthorized", reflect.TypeFor[OnUsageAuthorized]()},
	{"OnUsageCommitted", reflect.TypeFor[OnUsageCommitted]()},
	{"OnPaywallHit", reflect.TypeFor[OnPaywallHit]()},
	{"OnReceiptVerified", reflect.TypeFor[OnReceiptVerified]()},
	{"OnReceiptRejected", reflect.TypeFor[OnReceiptRejected]()},
	{"OnPurchaseApplied", reflect.TypeFor[OnPurchaseApplied]()},
	{"OnPurchaseReplayed", reflect.TypeFor[OnPurchaseReplayed]()},
	{"OnReconciled", reflect.TypeFor[OnReconciled]()},
}

// implementedInterfaces lists the hook names p implements, for logging.
func implementedInterfaces(p Plugin) []string {
	var names []string
	t := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if t.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs call for every plugin in hooks and logs failures.
func emit[T Plugin](r *Registry, ctx context.Context, hook string, hooks []T, call func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	emit(r, ctx, "OnInit", plugins, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	emit(r, ctx, "OnShutdown", plugins, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitEntitlementChecked emits an entitlement checked event.
func (r *Registry) EmitEntitlementChecked(ctx context.Context, status *entitlement.Status) {
	r.mu.RLock()
	plugins := r.onEntitlementChecked
	r.mu.RUnlock()

	emit(r, ctx, "OnEntitlementChecked", plugins, func(p OnEntitlementChecked) error {
		return p.OnEntitlementChecked(ctx, status)
	})
}

// EmitUsageAuthorized emits a usage authorized event.
func (r *Registry) EmitUsageAuthorized(ctx context.Context, installID, source string) {
	r.mu.RLock()
	plugins := r.onUsageAuthorized
	r.mu.RUnlock()

	emit(r, ctx, "OnUsageAuthorized", plugins, func(p OnUsageAuthorized) error {
		return p.OnUsageAuthorized(ctx, installID, source)
	})
}

// EmitUsageCommitted emits a usage committed event.
func (r *Registry) EmitUsageCommitted(ctx context.Context, installID, source string) {
	r.mu.RLock()
	plugins := r.onUsageCommitted
	r.mu.RUnlock()

	emit(r, ctx, "OnUsageCommitted", plugins, func(p OnUsageCommitted) error {
		return p.OnUsageCommitted(ctx, installID, source)
	})
}

// EmitPaywallHit emits a paywall event.
func (r *Registry) EmitPaywallHit(ctx context.Context, installID string, freeUsed, limit int64) {
	r.mu.RLock()
	plugins := r.onPaywallHit
	r.mu.RUnlock()

	emit(r, ctx, "OnPaywallHit", plugins, func(p OnPaywallHit) error {
		return p.OnPaywallHit(ctx, installID, freeUsed, limit)
	})
}

// EmitReceiptVerified emits a receipt verified event.
func (r *Registry) EmitReceiptVerified(ctx context.Context, environment string, valid bool, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onReceiptVerified
	r.mu.RUnlock()

	emit(r, ctx, "OnReceiptVerified", plugins, func(p OnReceiptVerified) error {
		return p.OnReceiptVerified(ctx, environment, valid, elapsed)
	})
}

// EmitReceiptRejected emits a receipt rejected event.
func (r *Registry) EmitReceiptRejected(ctx context.Context, installID, productID, reason string) {
	r.mu.RLock()
	plugins := r.onReceiptRejected
	r.mu.RUnlock()

	emit(r, ctx, "OnReceiptRejected", plugins, func(p OnReceiptRejected) error {
		return p.OnReceiptRejected(ctx, installID, productID, reason)
	})
}

// EmitPurchaseApplied emits a purchase applied event.
func (r *Registry) EmitPurchaseApplied(ctx context.Context, rec *transaction.Record) {
	r.mu.RLock()
	plugins := r.onPurchaseApplied
	r.mu.RUnlock()

	emit(r, ctx, "OnPurchaseApplied", plugins, func(p OnPurchaseApplied) error {
		return p.OnPurchaseApplied(ctx, rec)
	})
}

// EmitPurchaseReplayed emits a purchase replayed event.
func (r *Registry) EmitPurchaseReplayed(ctx context.Context, rec *transaction.Record) {
	r.mu.RLock()
	plugins := r.onPurchaseReplayed
	r.mu.RUnlock()

	emit(r, ctx, "OnPurchaseReplayed", plugins, func(p OnPurchaseReplayed) error {
		return p.OnPurchaseReplayed(ctx, rec)
	})
}

// EmitReconciled emits a reconciliation event.
func (r *Registry) EmitReconciled(ctx context.Context, applied int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onReconciled
	r.mu.RUnlock()

	emit(r, ctx, "OnReconciled", plugins, func(p OnReconciled) error {
		return p.OnReconciled(ctx, applied, elapsed)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the request path.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
