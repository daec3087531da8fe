package paywall

import "github.com/erasekit/paywall/id"

// ID is the identifier type for ledger rows and usage decisions.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
