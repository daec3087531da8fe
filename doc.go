// Package paywall meters paid usage for the watermark remover and turns App
// Store purchases into entitlements.
//
// It is a library first: the Engine wraps a store.Store and is mounted over
// HTTP by package api, inside a Forge app by package extension, or by the
// paywalld binary. It provides:
//
//   - Per-install status: legacy pro flag, free uses left and credit balance
//   - Success-gated usage metering with atomic, race-free counter updates
//   - Apple receipt verification with the production then sandbox fallback
//   - Exactly-once purchase application backed by an append-only ledger
//   - Startup reconciliation of ledger rows a crash left unapplied
//
// # Quick Start
//
//	st := memory.New()
//	engine := paywall.New(st,
//	    paywall.WithFreeUsageLimit(1),
//	    paywall.WithVerifier(receipt.NewApple(receipt.WithSharedSecret(secret))),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Metering
//
// Authorization picks the counter a use will be charged to and moves nothing.
// The caller commits only after the paid operation succeeded:
//
//	d, err := engine.AuthorizeUsage(ctx, installID)
//	if errors.Is(err, paywall.ErrPaywallExceeded) {
//	    // show the paywall
//	}
//	result, err := editor.Edit(ctx, req)
//	if err == nil {
//	    status, err = engine.CommitUsage(ctx, d)
//	}
//
// ConsumeUsage bundles the three steps. Commits are conditional updates
// (consume only while the counter allows it), so concurrent requests for one
// install cannot overspend.
//
// # Purchases
//
// VerifyAndApplyPurchase records each platform transaction once and marks it
// applied in the same atomic unit that changes the entitlement. Resubmitting a
// receipt is safe and reports CreditsAdded 0.
//
// # Identifiers
//
// Ledger rows and usage decisions carry TypeIDs:
//
//	txn_01h2xcejqtf2nbrexx3vqjhp41    // ledger row
//	authz_01h455vb4pex5vsknk084sn02q  // usage decision
package paywall
