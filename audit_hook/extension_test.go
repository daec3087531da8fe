package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	audithook "github.com/erasekit/paywall/audit_hook"
	"github.com/erasekit/paywall/plugin"
	"github.com/erasekit/paywall/transaction"
)

type capture struct {
	events []*audithook.AuditEvent
	err    error
}

func (c *capture) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.events = append(c.events, evt)
	return c.err
}

func TestPurchaseAppliedEvent(t *testing.T) {
	rec := &capture{}
	ext := audithook.New(rec)

	err := ext.OnPurchaseApplied(context.Background(), &transaction.Record{
		TransactionID:  "1000000001",
		InstallID:      "install-a",
		ProductID:      "credits_10",
		CreditsGranted: 10,
	})
	if err != nil {
		t.Fatalf("OnPurchaseApplied: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(rec.events))
	}

	evt := rec.events[0]
	if evt.Action != audithook.ActionPurchaseApplied || evt.ResourceID != "1000000001" {
		t.Errorf("unexpected event %+v", evt)
	}
	if evt.Metadata["install_id"] != "install-a" || evt.Metadata["credits_granted"] != int64(10) {
		t.Errorf("unexpected metadata %v", evt.Metadata)
	}
	if evt.Outcome != audithook.OutcomeSuccess || evt.Category != audithook.CategoryPayment {
		t.Errorf("unexpected classification %+v", evt)
	}
}

func TestReceiptRejectedCarriesReason(t *testing.T) {
	rec := &capture{}
	ext := audithook.New(rec)

	_ = ext.OnReceiptRejected(context.Background(), "install-a", "credits_50", "apple status 21002")

	evt := rec.events[0]
	if evt.Reason != "apple status 21002" || evt.Severity != audithook.SeverityWarning {
		t.Errorf("unexpected event %+v", evt)
	}
	if evt.Metadata["product_id"] != "credits_50" {
		t.Errorf("unexpected metadata %v", evt.Metadata)
	}
}

func TestEnabledActions(t *testing.T) {
	rec := &capture{}
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionPaywallHit))

	ctx := context.Background()
	_ = ext.OnUsageCommitted(ctx, "install-a", "free")
	_ = ext.OnPaywallHit(ctx, "install-a", 1, 1)

	if len(rec.events) != 1 || rec.events[0].Action != audithook.ActionPaywallHit {
		t.Fatalf("expected only paywall.hit, got %+v", rec.events)
	}
}

func TestDisabledActions(t *testing.T) {
	rec := &capture{}
	ext := audithook.New(rec, audithook.WithDisabledActions(audithook.ActionUsageCommitted))

	ctx := context.Background()
	_ = ext.OnUsageCommitted(ctx, "install-a", "credit")
	_ = ext.OnReconciled(ctx, 2, time.Millisecond)

	if len(rec.events) != 1 || rec.events[0].Action != audithook.ActionReconciled {
		t.Fatalf("expected only purchase.reconciled, got %+v", rec.events)
	}
}

func TestEmptyReconcileNotRecorded(t *testing.T) {
	rec := &capture{}
	ext := audithook.New(rec)

	_ = ext.OnReconciled(context.Background(), 0, time.Millisecond)

	if len(rec.events) != 0 {
		t.Fatalf("expected no events, got %d", len(rec.events))
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	rec := &capture{err: errors.New("backend down")}
	ext := audithook.New(rec, audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := ext.OnPaywallHit(context.Background(), "install-a", 1, 1); err != nil {
		t.Fatalf("recorder failure leaked: %v", err)
	}
}

func TestRegistersWithRegistry(t *testing.T) {
	rec := &capture{}
	reg := plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := reg.Register(audithook.New(rec)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	reg.EmitUsageCommitted(context.Background(), "install-a", "free")

	if len(rec.events) != 1 || rec.events[0].Metadata["source"] != "free" {
		t.Fatalf("unexpected events %+v", rec.events)
	}
}
