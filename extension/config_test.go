package extension

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/api"
	"github.com/erasekit/paywall/cache"
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	got := mergeWithDefaults(Config{FreeUsageLimit: 3})
	want := DefaultConfig()
	want.FreeUsageLimit = 3

	if got != want {
		t.Errorf("mergeWithDefaults = %+v, want %+v", got, want)
	}
	if got.DevBypass {
		t.Error("dev bypass must default to off")
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{FreeUsageLimit: 2, BasePath: "/billing"}
	prog := Config{
		FreeUsageLimit: 5,
		BasePath:       "/ignored",
		DisableRoutes:  true,
		StatusCacheTTL: time.Minute,
		StoreDriver:    DriverSQLite,
	}

	got := mergeConfigurations(yaml, prog)

	if got.FreeUsageLimit != 2 || got.BasePath != "/billing" {
		t.Errorf("file values should win: %+v", got)
	}
	if !got.DisableRoutes {
		t.Error("programmatic DisableRoutes should apply")
	}
	if got.StatusCacheTTL != time.Minute || got.StoreDriver != DriverSQLite {
		t.Errorf("programmatic values should fill gaps: %+v", got)
	}
	if got.MaxImageBytes != DefaultConfig().MaxImageBytes {
		t.Errorf("defaults should fill the rest: %+v", got)
	}
}

func TestNewStore(t *testing.T) {
	s, err := newStore(DriverMemory, nil)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("expected memory store, got %T", s)
	}

	if _, err := newStore("", nil); err != nil {
		t.Errorf("empty driver should fall back to memory: %v", err)
	}
	if _, err := newStore(DriverPostgres, nil); err == nil {
		t.Error("postgres without a grove database should fail")
	}
}

func TestMountBasePath(t *testing.T) {
	h := api.NewHandler(paywall.New(memory.New()))

	tests := []struct {
		base string
		path string
	}{
		{"/paywall", "/paywall/health"},
		{"", "/health"},
		{"/", "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mount(tt.base, h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("GET %s under %q = %d", tt.path, tt.base, rec.Code)
			}
		})
	}
}

func TestStatusCacheNeedsSharedCache(t *testing.T) {
	ctx := context.Background()

	// Without a host cache every status read hits the store.
	st := memory.New()
	ext := &Extension{config: DefaultConfig()}
	eng := paywall.New(st, ext.buildEngineOpts()...)

	if _, err := eng.GetStatus(ctx, "inst-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.ApplyUpdate(ctx, "inst-1", entitlement.Update{CreditsDelta: 5}); err != nil {
		t.Fatal(err)
	}
	got, err := eng.GetStatus(ctx, "inst-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Credits != 5 {
		t.Errorf("status served from a cache nobody configured: credits=%d", got.Credits)
	}

	// A supplied cache is wired with the configured TTL.
	c := cache.NewMemory()
	ext = &Extension{config: DefaultConfig(), cache: c}
	eng = paywall.New(memory.New(), ext.buildEngineOpts()...)
	if _, err := eng.GetStatus(ctx, "inst-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "inst-2"); err != nil {
		t.Errorf("supplied cache not used: %v", err)
	}
}
