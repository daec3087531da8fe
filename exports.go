package paywall

import (
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/transaction"
	"github.com/erasekit/paywall/types"
)

// Re-export common types so callers can stay on the root package.

// Status is re-exported from the entitlement package.
type Status = entitlement.Status

// Entitlement is re-exported from the entitlement package.
type Entitlement = entitlement.Entitlement

// Transaction is re-exported from the transaction package.
type Transaction = transaction.Record

// Money is re-exported from the types package.
type Money = types.Money

// UnlimitedRemaining is the free allowance reported for pro installs.
const UnlimitedRemaining = entitlement.UnlimitedRemaining
