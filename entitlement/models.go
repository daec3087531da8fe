// Package entitlement models the per-install authorization state: the legacy
// pro flag, free-quota usage and the purchased credit balance.
package entitlement

import "github.com/erasekit/paywall/types"

// UnlimitedRemaining is reported as the free allowance of a pro install.
const UnlimitedRemaining int64 = 999

// Entitlement is the stored row for one app install.
type Entitlement struct {
	types.Entity
	InstallID     string `json:"installId"`
	IsPro         bool   `json:"isPro"`
	FreeUsedCount int64  `json:"freeUsedCount"`
	Credits       int64  `json:"credits"`
}

// New returns a zero-valued entitlement for installID.
func New(installID string) *Entitlement {
	return &Entitlement{
		Entity:    types.NewEntity(),
		InstallID: installID,
	}
}

// FreeRemaining returns the free uses left under limit.
func (e *Entitlement) FreeRemaining(limit int64) int64 {
	if e.IsPro {
		return UnlimitedRemaining
	}
	return max(0, limit-e.FreeUsedCount)
}

// Status snapshots e for clients.
func (e *Entitlement) Status(limit int64) *Status {
	return &Status{
		InstallID:     e.InstallID,
		IsPro:         e.IsPro,
		FreeRemaining: e.FreeRemaining(limit),
		FreeUsed:      e.FreeUsedCount,
		FreeLimit:     limit,
		Credits:       e.Credits,
	}
}

// Status is the read model returned by status queries.
type Status struct {
	InstallID     string `json:"installId"`
	IsPro         bool   `json:"isPro"`
	FreeRemaining int64  `json:"freeRemaining"`
	FreeUsed      int64  `json:"freeUsed"`
	FreeLimit     int64  `json:"freeLimit"`
	Credits       int64  `json:"credits"`
}

// Update is a partial mutation. Counters are applied as deltas.
type Update struct {
	IsPro         *bool
	FreeUsedDelta int64
	CreditsDelta  int64
}

// Valid reports whether u can be applied. Counters only grow through Update;
// consumption goes through the conditional consume operations.
func (u Update) Valid() bool {
	return u.FreeUsedDelta >= 0 && u.CreditsDelta >= 0
}

// Apply merges u into e in memory.
func (u Update) Apply(e *Entitlement) {
	if u.IsPro != nil {
		e.IsPro = *u.IsPro
	}
	e.FreeUsedCount += u.FreeUsedDelta
	e.Credits += u.CreditsDelta
	e.Touch()
}

// Bool returns a pointer to b, for Update.IsPro.
func Bool(b bool) *bool { return &b }
