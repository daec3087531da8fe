package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/id"
	paywallstore "github.com/erasekit/paywall/store"
	"github.com/erasekit/paywall/transaction"
)

// compile-time interface check
var _ paywallstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("paywall/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("paywall/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Entitlement Store ====================

func (s *Store) GetOrCreate(ctx context.Context, installID string) (*entitlement.Entitlement, error) {
	if installID == "" {
		return nil, paywall.ErrInvalidInput
	}
	m := toEntitlementModel(entitlement.New(installID))
	if _, err := s.pg.NewInsert(m).
		OnConflict("(install_id) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("paywall/postgres: insert entitlement: %w", err)
	}
	return s.getEntitlement(ctx, installID)
}

func (s *Store) getEntitlement(ctx context.Context, installID string) (*entitlement.Entitlement, error) {
	m := new(entitlementModel)
	err := s.pg.NewSelect(m).
		Where("install_id = $1", installID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("entitlement %q: %w", installID, paywall.ErrNotFound)
		}
		return nil, fmt.Errorf("paywall/postgres: select entitlement: %w", err)
	}
	return fromEntitlementModel(m), nil
}

func (s *Store) ApplyUpdate(ctx context.Context, installID string, u entitlement.Update) (*entitlement.Entitlement, error) {
	if !u.Valid() {
		return nil, paywall.ValidationError{Field: "update", Message: "counter deltas must not be negative"}
	}

	q := s.pg.NewUpdate((*entitlementModel)(nil)).
		Set("free_used_count = free_used_count + $1", u.FreeUsedDelta).
		Set("credits = credits + $2", u.CreditsDelta).
		Set("updated_at = $3", now())

	argIdx := 3
	if u.IsPro != nil {
		argIdx++
		q = q.Set(fmt.Sprintf("is_pro = $%d", argIdx), *u.IsPro)
	}
	argIdx++
	q = q.Where(fmt.Sprintf("install_id = $%d", argIdx), installID)

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("paywall/postgres: update entitlement: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("entitlement %q: %w", installID, paywall.ErrNotFound)
	}
	return s.getEntitlement(ctx, installID)
}

func (s *Store) IncrementFreeUsed(ctx context.Context, installID string) error {
	_, err := s.ApplyUpdate(ctx, installID, entitlement.Update{FreeUsedDelta: 1})
	return err
}

func (s *Store) ConsumeFree(ctx context.Context, installID string, limit int64) (bool, error) {
	res, err := s.pg.NewUpdate((*entitlementModel)(nil)).
		Set("free_used_count = free_used_count + 1").
		Set("updated_at = $1", now()).
		Where("install_id = $2", installID).
		Where("free_used_count < $3", limit).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/postgres: consume free: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) ConsumeCredit(ctx context.Context, installID string) (bool, error) {
	res, err := s.pg.NewUpdate((*entitlementModel)(nil)).
		Set("credits = credits - 1").
		Set("updated_at = $1", now()).
		Where("install_id = $2", installID).
		Where("credits > 0").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/postgres: consume credit: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ==================== Transaction Store ====================

func (s *Store) Exists(ctx context.Context, transactionID string) (bool, error) {
	var n int64
	err := s.pg.NewRaw(
		`SELECT COUNT(*) FROM paywall_transactions WHERE transaction_id = $1`,
		transactionID,
	).Scan(ctx, &n)
	if err != nil {
		return false, fmt.Errorf("paywall/postgres: exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Record(ctx context.Context, r *transaction.Record) error {
	if r.TransactionID == "" {
		return paywall.ValidationError{Field: "transaction_id", Message: "required"}
	}
	if r.ID.IsNil() {
		r.ID = id.NewTransactionID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}

	res, err := s.pg.NewInsert(toTransactionModel(r)).
		OnConflict("(transaction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("paywall/postgres: insert transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("transaction %q: %w", r.TransactionID, paywall.ErrConflict)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*transaction.Record, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("transaction_id = $1", transactionID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("transaction %q: %w", transactionID, paywall.ErrNotFound)
		}
		return nil, fmt.Errorf("paywall/postgres: select transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, installID string, opts transaction.ListOpts) ([]*transaction.Record, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).Where("install_id = $1", installID)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paywall/postgres: list transactions: %w", err)
	}
	return fromTransactionModels(models)
}

func (s *Store) ListUnapplied(ctx context.Context, limit int) ([]*transaction.Record, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).
		Where("applied_at IS NULL").
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paywall/postgres: list unapplied: %w", err)
	}
	return fromTransactionModels(models)
}

// ensureOwnerSQL creates the owning entitlement row if it is missing, so the
// apply statement below always has a row to update.
const ensureOwnerSQL = `
INSERT INTO paywall_entitlements (install_id, created_at, updated_at)
SELECT install_id, $1, $1 FROM paywall_transactions WHERE transaction_id = $2
ON CONFLICT (install_id) DO NOTHING
RETURNING 1`

// applyTransactionSQL claims the ledger row and applies its effect in one
// statement. The count is 1 only for the call that claimed the row.
const applyTransactionSQL = `
WITH mark AS (
    UPDATE paywall_transactions
       SET applied_at = $1
     WHERE transaction_id = $2 AND applied_at IS NULL
 RETURNING install_id, grants_pro, credits_granted
), upd AS (
    UPDATE paywall_entitlements e
       SET is_pro = e.is_pro OR mark.grants_pro,
           credits = e.credits + mark.credits_granted,
           updated_at = $1
      FROM mark
     WHERE e.install_id = mark.install_id
 RETURNING 1
)
SELECT COUNT(*) FROM upd`

func (s *Store) ApplyTransaction(ctx context.Context, transactionID string) (bool, error) {
	t := now()

	var created []int64
	if err := s.pg.NewRaw(ensureOwnerSQL, t, transactionID).Scan(ctx, &created); err != nil && !isNoRows(err) {
		return false, fmt.Errorf("paywall/postgres: ensure entitlement: %w", err)
	}

	var applied int64
	if err := s.pg.NewRaw(applyTransactionSQL, t, transactionID).Scan(ctx, &applied); err != nil {
		return false, fmt.Errorf("paywall/postgres: apply transaction: %w", err)
	}
	if applied == 1 {
		return true, nil
	}

	exists, err := s.Exists(ctx, transactionID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("transaction %q: %w", transactionID, paywall.ErrNotFound)
	}
	return false, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
