package audithook

// Action constants for audit events.
const (
	// Usage actions
	ActionUsageCommitted = "usage.committed"
	ActionPaywallHit     = "paywall.hit"

	// Purchase actions
	ActionReceiptRejected  = "receipt.rejected"
	ActionPurchaseApplied  = "purchase.applied"
	ActionPurchaseReplayed = "purchase.replayed"
	ActionReconciled       = "purchase.reconciled"
)

// Resource constants for audit events.
const (
	ResourceEntitlement = "entitlement"
	ResourceReceipt     = "receipt"
	ResourceTransaction = "transaction"
)

// Category constants for audit events.
const (
	CategoryUsage   = "usage"
	CategoryAccess  = "access"
	CategoryPayment = "payment"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
