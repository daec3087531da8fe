package paywall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/erasekit/paywall/cache"
	"github.com/erasekit/paywall/catalog"
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/id"
	"github.com/erasekit/paywall/plugin"
	"github.com/erasekit/paywall/receipt"
	"github.com/erasekit/paywall/store"
	"github.com/erasekit/paywall/transaction"
)

const (
	// DefaultFreeUsageLimit is the number of free edits per install.
	DefaultFreeUsageLimit int64 = 1

	// DefaultStatusCacheTTL bounds how long a cached status may be served.
	DefaultStatusCacheTTL = 30 * time.Second

	// DecisionTTL is how long an authorization stays committable.
	DecisionTTL = 15 * time.Minute

	reconcileBatch = 200
	maxListLimit   = 200
)

// Engine is the entitlement service: it answers status queries, gates paid
// usage and applies verified purchases.
type Engine struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	verifier receipt.Verifier
	catalog  *catalog.Catalog

	// Status cache
	cache    cache.Cache
	cacheTTL time.Duration

	// Configuration
	freeLimit int64
	devBypass bool

	// Committed decisions, pruned after DecisionTTL
	mu        sync.Mutex
	committed map[string]time.Time
}

// New creates a new Engine over s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		plugins:   plugin.NewRegistry(),
		logger:    slog.Default(),
		catalog:   catalog.Default(),
		cacheTTL:  DefaultStatusCacheTTL,
		freeLimit: DefaultFreeUsageLimit,
		committed: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.verifier == nil {
		e.verifier = receipt.NewApple(receipt.WithLogger(e.logger))
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithFreeUsageLimit sets the number of free uses per install. Negative
// values are treated as zero.
func WithFreeUsageLimit(limit int64) Option {
	return func(e *Engine) {
		e.freeLimit = max(0, limit)
	}
}

// WithDevBypass disables metering entirely. Every authorization succeeds and
// nothing is counted. Development only.
func WithDevBypass(enabled bool) Option {
	return func(e *Engine) {
		e.devBypass = enabled
	}
}

// WithVerifier sets the receipt verifier. Defaults to Apple's verifyReceipt.
func WithVerifier(v receipt.Verifier) Option {
	return func(e *Engine) {
		e.verifier = v
	}
}

// WithCatalog sets the product catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) {
		if c != nil {
			e.catalog = c
		}
	}
}

// WithStatusCache puts c in front of status reads.
func WithStatusCache(c cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithStatusCacheTTL sets the status cache TTL.
func WithStatusCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

// Start migrates the store, initializes plugins and applies any ledger rows
// left unapplied by an earlier crash.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	if _, err := e.Reconcile(ctx); err != nil {
		e.logger.Error("startup reconciliation failed", "error", err)
	}

	if e.devBypass {
		e.logger.Warn("dev bypass enabled: usage is not metered")
	}
	e.logger.Info("paywall started",
		"free_usage_limit", e.freeLimit,
		"dev_bypass", e.devBypass,
		"products", len(e.catalog.Products()),
		"cache_ttl", e.cacheTTL,
	)

	return nil
}

// Stop shuts down the engine and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error { return e.store.Ping(ctx) }

// Catalog returns the product catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// ──────────────────────────────────────────────────
// Status
// ──────────────────────────────────────────────────

// GetStatus returns the install's entitlement status, creating the row if
// needed.
func (e *Engine) GetStatus(ctx context.Context, installID string) (*entitlement.Status, error) {
	if installID == "" {
		return nil, ValidationError{Field: "installId", Message: "required"}
	}

	var (
		version   uint64
		cacheable bool
	)
	if e.cache != nil {
		st, err := e.cache.Get(ctx, installID)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn("status cache read failed", "install_id", installID, "error", err)
		}

		// Taken before the store read so a mutation racing it voids the Set.
		version, err = e.cache.Version(ctx, installID)
		if err != nil {
			e.logger.Warn("status cache version read failed", "install_id", installID, "error", err)
		} else {
			cacheable = true
		}
	}

	st, err := e.freshStatus(ctx, installID)
	if err != nil {
		return nil, err
	}

	if cacheable {
		stored, err := e.cache.Set(ctx, st, version, e.cacheTTL)
		switch {
		case err != nil:
			e.logger.Warn("status cache write failed", "install_id", installID, "error", err)
		case !stored && e.cacheTTL > 0:
			e.logger.Debug("status changed during read, not cached", "install_id", installID)
		}
	}
	e.plugins.EmitEntitlementChecked(ctx, st)

	return st, nil
}

func (e *Engine) freshStatus(ctx context.Context, installID string) (*entitlement.Status, error) {
	ent, err := e.store.GetOrCreate(ctx, installID)
	if err != nil {
		return nil, err
	}
	return ent.Status(e.freeLimit), nil
}

func (e *Engine) invalidate(ctx context.Context, installIDs ...string) {
	if e.cache == nil {
		return
	}
	for _, installID := range installIDs {
		if err := e.cache.Invalidate(ctx, installID); err != nil {
			e.logger.Warn("status cache invalidation failed", "install_id", installID, "error", err)
		}
	}
}

// ──────────────────────────────────────────────────
// Usage
// ──────────────────────────────────────────────────

// Source names the counter an authorized use will be charged to.
type Source string

const (
	SourceBypass Source = "bypass"
	SourcePro    Source = "pro"
	SourceCredit Source = "credit"
	SourceFree   Source = "free"
)

// Charged reports whether committing a use from s moves a counter.
func (s Source) Charged() bool { return s == SourceCredit || s == SourceFree }

// Decision is an authorization to perform one paid operation. Nothing is
// counted until it is passed to CommitUsage.
type Decision struct {
	ID        id.ID     `json:"id"`
	InstallID string    `json:"installId"`
	Source    Source    `json:"source"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// AuthorizeUsage decides whether installID may perform one paid operation and
// which counter it will be charged to. No counter moves here.
func (e *Engine) AuthorizeUsage(ctx context.Context, installID string) (*Decision, error) {
	if installID == "" {
		return nil, ValidationError{Field: "installId", Message: "required"}
	}

	d := &Decision{
		ID:        id.NewDecisionID(),
		InstallID: installID,
		IssuedAt:  time.Now().UTC(),
	}

	if e.devBypass {
		d.Source = SourceBypass
		e.plugins.EmitUsageAuthorized(ctx, installID, string(d.Source))
		return d, nil
	}

	ent, err := e.store.GetOrCreate(ctx, installID)
	if err != nil {
		return nil, err
	}

	switch {
	case ent.IsPro:
		d.Source = SourcePro
	case ent.Credits > 0:
		d.Source = SourceCredit
	case ent.FreeUsedCount < e.freeLimit:
		d.Source = SourceFree
	default:
		e.paywallHit(ctx, installID, ent.FreeUsedCount)
		return nil, ErrPaywallExceeded
	}

	e.plugins.EmitUsageAuthorized(ctx, installID, string(d.Source))
	return d, nil
}

// CommitUsage charges a successful operation to the counter chosen at
// authorization. If that counter was drained concurrently the other one is
// tried once; when both are empty the use is refused with ErrPaywallExceeded.
// A decision commits at most once.
func (e *Engine) CommitUsage(ctx context.Context, d *Decision) (*entitlement.Status, error) {
	if d == nil || d.InstallID == "" || d.ID.Prefix() != id.PrefixDecision {
		return nil, ValidationError{Field: "decision", Message: "malformed"}
	}
	if err := e.claim(d); err != nil {
		return nil, err
	}

	charged, err := e.charge(ctx, d)
	if err != nil {
		e.release(d)
		return nil, err
	}

	if charged != "" {
		e.invalidate(ctx, d.InstallID)
	}

	st, err := e.freshStatus(ctx, d.InstallID)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("usage committed",
		"install_id", d.InstallID,
		"decision", d.ID.String(),
		"source", d.Source,
		"charged", charged,
	)
	e.plugins.EmitUsageCommitted(ctx, d.InstallID, string(d.Source))

	return st, nil
}

// charge moves the counter for d and returns the source actually charged,
// or "" for uncharged sources.
func (e *Engine) charge(ctx context.Context, d *Decision) (Source, error) {
	var order []Source
	switch d.Source {
	case SourceBypass, SourcePro:
		return "", nil
	case SourceCredit:
		order = []Source{SourceCredit, SourceFree}
	case SourceFree:
		order = []Source{SourceFree, SourceCredit}
	default:
		return "", ValidationError{Field: "source", Message: fmt.Sprintf("unknown source %q", d.Source)}
	}

	for _, src := range order {
		var (
			ok  bool
			err error
		)
		if src == SourceCredit {
			ok, err = e.store.ConsumeCredit(ctx, d.InstallID)
		} else {
			ok, err = e.store.ConsumeFree(ctx, d.InstallID, e.freeLimit)
		}
		if err != nil {
			return "", err
		}
		if ok {
			if src != d.Source {
				e.logger.Info("usage charged to fallback counter",
					"install_id", d.InstallID,
					"decided", d.Source,
					"charged", src,
				)
			}
			return src, nil
		}
	}

	// Both counters drained since authorization.
	ent, err := e.store.GetOrCreate(ctx, d.InstallID)
	if err != nil {
		return "", err
	}
	e.paywallHit(ctx, d.InstallID, ent.FreeUsedCount)
	return "", ErrPaywallExceeded
}

func (e *Engine) paywallHit(ctx context.Context, installID string, freeUsed int64) {
	e.logger.Info("paywall hit",
		"install_id", installID,
		"free_used", freeUsed,
		"free_limit", e.freeLimit,
	)
	e.plugins.EmitPaywallHit(ctx, installID, freeUsed, e.freeLimit)
}

func (e *Engine) claim(d *Decision) error {
	now := time.Now()
	if now.Sub(d.IssuedAt) > DecisionTTL {
		return ValidationError{Field: "decision", Message: "expired"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for key, issued := range e.committed {
		if now.Sub(issued) > DecisionTTL {
			delete(e.committed, key)
		}
	}

	key := d.ID.String()
	if _, done := e.committed[key]; done {
		return ErrAlreadyCommitted
	}
	e.committed[key] = d.IssuedAt
	return nil
}

func (e *Engine) release(d *Decision) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.committed, d.ID.String())
}

// ConsumeUsage authorizes one use, runs fn and commits only if fn succeeded.
// A failed or abandoned fn consumes nothing.
func (e *Engine) ConsumeUsage(ctx context.Context, installID string, fn func(ctx context.Context) error) (*entitlement.Status, error) {
	d, err := e.AuthorizeUsage(ctx, installID)
	if err != nil {
		return nil, err
	}
	if err := fn(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.CommitUsage(ctx, d)
}

// ──────────────────────────────────────────────────
// Purchases
// ──────────────────────────────────────────────────

// PurchaseRequest is a client's claim that it bought ProductID.
type PurchaseRequest struct {
	InstallID string
	Platform  string
	ProductID string
	Receipt   string
}

// PurchaseResult is the outcome of VerifyAndApplyPurchase.
type PurchaseResult struct {
	Status        *entitlement.Status `json:"status"`
	TransactionID string              `json:"transactionId"`
	CreditsAdded  int64               `json:"creditsAdded"`
	ProApplied    bool                `json:"proApplied"`
	Replayed      bool                `json:"replayed"`
}

// VerifyAndApplyPurchase verifies a receipt and applies the product's effect
// to the install exactly once per platform transaction. Resubmitting an
// applied transaction succeeds with CreditsAdded 0.
func (e *Engine) VerifyAndApplyPurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	switch {
	case req.InstallID == "":
		return nil, ValidationError{Field: "installId", Message: "required"}
	case req.ProductID == "":
		return nil, ValidationError{Field: "productId", Message: "required"}
	case req.Receipt == "":
		return nil, ValidationError{Field: "receipt", Message: "required"}
	}
	if req.Platform != receipt.PlatformIOS {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, req.Platform)
	}
	product, ok := e.catalog.Lookup(req.ProductID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProduct, req.ProductID)
	}

	if _, err := e.store.GetOrCreate(ctx, req.InstallID); err != nil {
		return nil, err
	}

	start := time.Now()
	verdict, err := e.verifier.Verify(ctx, receipt.Request{
		Platform:  req.Platform,
		ProductID: req.ProductID,
		Receipt:   req.Receipt,
	})
	if err != nil {
		e.logger.Error("receipt verification failed",
			"install_id", req.InstallID,
			"product_id", req.ProductID,
			"receipt_len", len(req.Receipt),
			"error", err,
		)
		if errors.Is(err, ErrVerificationTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrVerificationTransport, err)
	}
	e.plugins.EmitReceiptVerified(ctx, verdict.Environment, verdict.Valid, time.Since(start))

	if !verdict.Valid {
		e.logger.Info("receipt rejected",
			"install_id", req.InstallID,
			"product_id", req.ProductID,
			"reason", verdict.Reason,
		)
		e.plugins.EmitReceiptRejected(ctx, req.InstallID, req.ProductID, verdict.Reason)
		return nil, &InvalidReceiptError{Reason: verdict.Reason, Status: verdict.Status}
	}

	rec, err := e.recordOnce(ctx, req, product, verdict)
	if err != nil {
		return nil, err
	}

	applied, err := e.store.ApplyTransaction(ctx, rec.TransactionID)
	if err != nil {
		return nil, err
	}
	e.invalidate(ctx, req.InstallID, rec.InstallID)

	res := &PurchaseResult{
		TransactionID: rec.TransactionID,
		Replayed:      !applied,
	}
	if applied {
		res.CreditsAdded = rec.CreditsGranted
		res.ProApplied = rec.GrantsPro
		e.logger.Info("purchase applied",
			"install_id", rec.InstallID,
			"transaction_id", rec.TransactionID,
			"product_id", rec.ProductID,
			"credits_added", rec.CreditsGranted,
			"grants_pro", rec.GrantsPro,
		)
		e.plugins.EmitPurchaseApplied(ctx, rec)
	} else {
		if rec.InstallID != req.InstallID {
			e.logger.Warn("transaction replayed from another install",
				"transaction_id", rec.TransactionID,
				"owner_install_id", rec.InstallID,
				"install_id", req.InstallID,
			)
		}
		e.plugins.EmitPurchaseReplayed(ctx, rec)
	}

	res.Status, err = e.freshStatus(ctx, req.InstallID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// recordOnce returns the ledger row for the verified transaction, inserting
// it if this is the first time it is seen.
func (e *Engine) recordOnce(ctx context.Context, req PurchaseRequest, product catalog.Product, verdict *receipt.Result) (*transaction.Record, error) {
	exists, err := e.store.Exists(ctx, verdict.TransactionID)
	if err != nil {
		return nil, err
	}
	if exists {
		return e.store.GetTransaction(ctx, verdict.TransactionID)
	}

	rec := &transaction.Record{
		ID:                    id.NewTransactionID(),
		TransactionID:         verdict.TransactionID,
		OriginalTransactionID: verdict.OriginalTransactionID,
		ProductID:             product.ID,
		InstallID:             req.InstallID,
		Platform:              req.Platform,
		Environment:           verdict.Environment,
		PurchasedAt:           verdict.PurchasedAt,
		RawReceiptExcerpt:     transaction.Excerpt(req.Receipt),
		GrantsPro:             product.Effect.GrantsPro(),
		CreditsGranted:        product.Effect.CreditDelta(),
		CreatedAt:             time.Now().UTC(),
	}

	switch err := e.store.Record(ctx, rec); {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrConflict):
		// Lost an insert race with a concurrent submission of the same receipt.
		return e.store.GetTransaction(ctx, verdict.TransactionID)
	default:
		return nil, err
	}
}

// Reconcile applies every ledger row whose effect has not reached its
// entitlement, and returns how many were applied.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	start := time.Now()
	applied := 0

	for {
		rows, err := e.store.ListUnapplied(ctx, reconcileBatch)
		if err != nil {
			return applied, err
		}

		batchApplied := 0
		for _, rec := range rows {
			ok, err := e.store.ApplyTransaction(ctx, rec.TransactionID)
			if err != nil {
				return applied, fmt.Errorf("reconcile %s: %w", rec.TransactionID, err)
			}
			if ok {
				batchApplied++
				e.invalidate(ctx, rec.InstallID)
				e.plugins.EmitPurchaseApplied(ctx, rec)
			}
		}
		applied += batchApplied

		if len(rows) < reconcileBatch || batchApplied == 0 {
			break
		}
	}

	elapsed := time.Since(start)
	if applied > 0 {
		e.logger.Warn("reconciled unapplied transactions", "applied", applied, "elapsed_ms", elapsed.Milliseconds())
	}
	e.plugins.EmitReconciled(ctx, applied, elapsed)

	return applied, nil
}

// Transactions lists the ledger rows of an install, newest first.
func (e *Engine) Transactions(ctx context.Context, installID string, opts transaction.ListOpts) ([]*transaction.Record, error) {
	if installID == "" {
		return nil, ValidationError{Field: "installId", Message: "required"}
	}
	if opts.Limit <= 0 || opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	opts.Offset = max(0, opts.Offset)
	return e.store.ListTransactions(ctx, installID, opts)
}
