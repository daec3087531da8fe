package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/erasekit/paywall/store"
	"github.com/erasekit/paywall/store/memory"
	pgstore "github.com/erasekit/paywall/store/postgres"
	sqlitestore "github.com/erasekit/paywall/store/sqlite"
)

// Database drivers accepted in DATABASE_DRIVER.
const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

// openStore opens the database named by cfg. The engine owns the result and
// closes it on Stop.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case driverSQLite:
		drv := sqlitedriver.New()
		if err := drv.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.DatabaseURL, err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("grove sqlite: %w", err)
		}
		logger.Info("sqlite store opened", "path", cfg.DatabaseURL)
		return sqlitestore.New(db), nil

	case driverPostgres:
		drv := pgdriver.New()
		if err := drv.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("grove postgres: %w", err)
		}
		logger.Info("postgres store opened")
		return pgstore.New(db), nil

	case driverMemory:
		logger.Warn("memory store selected: entitlements and purchases are lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
}
