package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/store/memory"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.EqualValues(t, 1, cfg.FreeUsageLimit)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, 30*time.Second, cfg.AppleVerifyTimeout)
	assert.Equal(t, 120*time.Second, cfg.ArkTimeout)
	assert.EqualValues(t, 10<<20, cfg.MaxImageBytes())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Empty(t, cfg.CORSOrigins)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "watermark.db", cfg.DatabaseURL)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FREE_USAGE_LIMIT", "3")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("STATUS_CACHE_TTL", "5s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.EqualValues(t, 3, cfg.FreeUsageLimit)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 5*time.Second, cfg.StatusCacheTTL)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadConfigRejectsNegativeLimit(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FREE_USAGE_LIMIT", "-1")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigDatabase(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		url     string
		wantErr bool
	}{
		{"postgres", "postgres", "postgres://paywall@localhost/paywall", false},
		{"postgres without url", "postgres", "", true},
		{"memory without url", "memory", "", false},
		{"unknown driver", "mysql", "x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("DATABASE_DRIVER", tt.driver)
			t.Setenv("DATABASE_URL", tt.url)

			cfg, err := LoadConfig()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, cfg.DatabaseDriver)
			assert.Equal(t, tt.url, cfg.DatabaseURL)
		})
	}
}

func TestOpenStoreSQLitePersists(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{DatabaseDriver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "paywall.db")}

	st, err := openStore(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	_, err = st.GetOrCreate(ctx, "inst-1")
	require.NoError(t, err)
	_, err = st.ApplyUpdate(ctx, "inst-1", entitlement.Update{CreditsDelta: 50})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	reopened, err := openStore(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.Migrate(ctx))

	ent, err := reopened.GetOrCreate(ctx, "inst-1")
	require.NoError(t, err)
	assert.EqualValues(t, 50, ent.Credits, "credits must survive a restart")
}

func TestOpenStoreMemoryAndUnknown(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := openStore(ctx, Config{DatabaseDriver: "memory"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, st)

	_, err = openStore(ctx, Config{DatabaseDriver: "oracle"}, logger)
	assert.Error(t, err)
}
