package plugin_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erasekit/paywall/plugin"
	"github.com/erasekit/paywall/transaction"
)

type countingPlugin struct {
	name      string
	committed atomic.Int32
	applied   atomic.Int32
	fail      bool
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) OnUsageCommitted(context.Context, string, string) error {
	p.committed.Add(1)
	if p.fail {
		return errors.New("boom")
	}
	return nil
}

func (p *countingPlugin) OnPurchaseApplied(context.Context, *transaction.Record) error {
	p.applied.Add(1)
	return nil
}

type slowPlugin struct{}

func (slowPlugin) Name() string { return "slow" }

func (slowPlugin) OnReconciled(ctx context.Context, _ int, _ time.Duration) error {
	time.Sleep(time.Second)
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	if err := r.Register(&countingPlugin{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&countingPlugin{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Error("Get returned the wrong plugin")
	}
}

func TestEmitDispatchesOnlyToImplementers(t *testing.T) {
	ctx := context.Background()
	r := plugin.NewRegistry()
	p := &countingPlugin{name: "counter"}
	_ = r.Register(p)

	r.EmitUsageCommitted(ctx, "inst-1", "free")
	r.EmitUsageCommitted(ctx, "inst-1", "credit")
	r.EmitPurchaseApplied(ctx, &transaction.Record{TransactionID: "T1"})
	r.EmitPaywallHit(ctx, "inst-1", 1, 1) // not implemented, must not panic

	if got := p.committed.Load(); got != 2 {
		t.Errorf("committed = %d, want 2", got)
	}
	if got := p.applied.Load(); got != 1 {
		t.Errorf("applied = %d, want 1", got)
	}
}

func TestEmitLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := plugin.NewRegistry().WithLogger(logger)
	_ = r.Register(&countingPlugin{name: "flaky", fail: true})

	r.EmitUsageCommitted(context.Background(), "inst-1", "free")

	if !strings.Contains(buf.String(), "plugin OnUsageCommitted failed") {
		t.Errorf("expected warning in log, got %q", buf.String())
	}
}

func TestEmitTimeout(t *testing.T) {
	var buf bytes.Buffer
	r := plugin.NewRegistry().
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))).
		WithTimeout(20 * time.Millisecond)
	_ = r.Register(slowPlugin{})

	start := time.Now()
	r.EmitReconciled(context.Background(), 3, time.Millisecond)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("emit blocked for %s", elapsed)
	}
	if !strings.Contains(buf.String(), "plugin timeout: slow") {
		t.Errorf("expected timeout warning, got %q", buf.String())
	}
}
