package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the paywall store.
var Migrations = migrate.NewGroup("paywall")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_paywall_entitlements",
			Version: "20250601000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS paywall_entitlements (
    install_id      TEXT PRIMARY KEY,
    is_pro          BOOLEAN NOT NULL DEFAULT FALSE,
    free_used_count BIGINT NOT NULL DEFAULT 0 CHECK (free_used_count >= 0),
    credits         BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS paywall_entitlements`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_paywall_transactions",
			Version: "20250601000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS paywall_transactions (
    id                      TEXT PRIMARY KEY,
    transaction_id          TEXT NOT NULL,
    original_transaction_id TEXT NOT NULL DEFAULT '',
    product_id              TEXT NOT NULL,
    install_id              TEXT NOT NULL,
    platform                TEXT NOT NULL,
    environment             TEXT NOT NULL DEFAULT '',
    purchased_at            TIMESTAMPTZ,
    raw_receipt_excerpt     TEXT NOT NULL DEFAULT '',
    grants_pro              BOOLEAN NOT NULL DEFAULT FALSE,
    credits_granted         BIGINT NOT NULL DEFAULT 0,
    applied_at              TIMESTAMPTZ,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_paywall_txn_transaction_id ON paywall_transactions (transaction_id);
CREATE INDEX IF NOT EXISTS idx_paywall_txn_original ON paywall_transactions (original_transaction_id);
CREATE INDEX IF NOT EXISTS idx_paywall_txn_install ON paywall_transactions (install_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_paywall_txn_unapplied ON paywall_transactions (created_at) WHERE applied_at IS NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS paywall_transactions`)
				return err
			},
		},
	)
}
