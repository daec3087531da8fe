package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the paywall store (SQLite).
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
    is_pro          INTEGER NOT NULL DEFAULT 0,
    free_used_count INTEGER NOT NULL DEFAULT 0 CHECK (free_used_count >= 0),
    credits         INTEGER NOT NULL DEFAULT 0 CHECK (credits >= 0),
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
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
    purchased_at            TEXT,
    raw_receipt_excerpt     TEXT NOT NULL DEFAULT '',
    grants_pro              INTEGER NOT NULL DEFAULT 0,
    credits_granted         INTEGER NOT NULL DEFAULT 0,
    applied_at              TEXT,
    created_at              TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_paywall_txn_transaction_id ON paywall_transactions (transaction_id);
CREATE INDEX IF NOT EXISTS idx_paywall_txn_original ON paywall_transactions (original_transaction_id);
CREATE INDEX IF NOT EXISTS idx_paywall_txn_install ON paywall_transactions (install_id, created_at);
CREATE INDEX IF NOT EXISTS idx_paywall_txn_unapplied ON paywall_transactions (created_at) WHERE applied_at IS NULL;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS paywall_transactions`)
				return err
			},
		},
		&migrate.Migration{
			// Marking a row applied and crediting the entitlement happen in the
			// same statement: the trigger runs inside the UPDATE that sets
			// applied_at, and only on the first transition from NULL.
			Name:    "create_paywall_apply_trigger",
			Version: "20250601000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TRIGGER IF NOT EXISTS trg_paywall_txn_apply
AFTER UPDATE OF applied_at ON paywall_transactions
FOR EACH ROW
WHEN OLD.applied_at IS NULL AND NEW.applied_at IS NOT NULL
BEGIN
    UPDATE paywall_entitlements
       SET is_pro     = CASE WHEN NEW.grants_pro THEN 1 ELSE is_pro END,
           credits    = credits + NEW.credits_granted,
           updated_at = NEW.applied_at
     WHERE install_id = NEW.install_id;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TRIGGER IF EXISTS trg_paywall_txn_apply`)
				return err
			},
		},
	)
}
