package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/id"
	paywallstore "github.com/erasekit/paywall/store"
	"github.com/erasekit/paywall/transaction"
)

// compile-time interface check
var _ paywallstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables, indexes and trigger using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("paywall/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("paywall/sqlite: migration failed: %w", err)
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
	if _, err := s.sdb.NewInsert(m).
		OnConflict("(install_id) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("paywall/sqlite: insert entitlement: %w", err)
	}
	return s.getEntitlement(ctx, installID)
}

func (s *Store) getEntitlement(ctx context.Context, installID string) (*entitlement.Entitlement, error) {
	m := new(entitlementModel)
	err := s.sdb.NewSelect(m).
		Where("install_id = ?", installID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("entitlement %q: %w", installID, paywall.ErrNotFound)
		}
		return nil, fmt.Errorf("paywall/sqlite: select entitlement: %w", err)
	}
	return fromEntitlementModel(m), nil
}

func (s *Store) ApplyUpdate(ctx context.Context, installID string, u entitlement.Update) (*entitlement.Entitlement, error) {
	if !u.Valid() {
		return nil, paywall.ValidationError{Field: "update", Message: "counter deltas must not be negative"}
	}

	q := s.sdb.NewUpdate((*entitlementModel)(nil)).
		Set("free_used_count = free_used_count + ?", u.FreeUsedDelta).
		Set("credits = credits + ?", u.CreditsDelta).
		Set("updated_at = ?", now())
	if u.IsPro != nil {
		q = q.Set("is_pro = ?", *u.IsPro)
	}
	q = q.Where("install_id = ?", installID)

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("paywall/sqlite: update entitlement: %w", err)
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
	res, err := s.sdb.NewUpdate((*entitlementModel)(nil)).
		Set("free_used_count = free_used_count + 1").
		Set("updated_at = ?", now()).
		Where("install_id = ?", installID).
		Where("free_used_count < ?", limit).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/sqlite: consume free: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) ConsumeCredit(ctx context.Context, installID string) (bool, error) {
	res, err := s.sdb.NewUpdate((*entitlementModel)(nil)).
		Set("credits = credits - 1").
		Set("updated_at = ?", now()).
		Where("install_id = ?", installID).
		Where("credits > 0").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/sqlite: consume credit: %w", err)
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
	err := s.sdb.NewRaw(
		`SELECT COUNT(*) FROM paywall_transactions WHERE transaction_id = ?`,
		transactionID,
	).Scan(ctx, &n)
	if err != nil {
		return false, fmt.Errorf("paywall/sqlite: exists: %w", err)
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

	res, err := s.sdb.NewInsert(toTransactionModel(r)).
		OnConflict("(transaction_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("paywall/sqlite: insert transaction: %w", err)
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
	err := s.sdb.NewSelect(m).
		Where("transaction_id = ?", transactionID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("transaction %q: %w", transactionID, paywall.ErrNotFound)
		}
		return nil, fmt.Errorf("paywall/sqlite: select transaction: %w", err)
	}
	return fromTransactionModel(m)
}

func (s *Store) ListTransactions(ctx context.Context, installID string, opts transaction.ListOpts) ([]*transaction.Record, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("install_id = ?", installID)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paywall/sqlite: list transactions: %w", err)
	}
	return fromModels(models)
}

func (s *Store) ListUnapplied(ctx context.Context, limit int) ([]*transaction.Record, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).
		Where("applied_at IS NULL").
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paywall/sqlite: list unapplied: %w", err)
	}
	return fromModels(models)
}

// ApplyTransaction sets applied_at on a still-unapplied row. The
// trg_paywall_txn_apply trigger credits the entitlement inside that UPDATE.
func (s *Store) ApplyTransaction(ctx context.Context, transactionID string) (bool, error) {
	r, err := s.GetTransaction(ctx, transactionID)
	if err != nil {
		return false, err
	}
	if r.Applied() {
		return false, nil
	}
	if _, err := s.GetOrCreate(ctx, r.InstallID); err != nil {
		return false, err
	}

	res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
		Set("applied_at = ?", now()).
		Where("transaction_id = ?", transactionID).
		Where("applied_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/sqlite: apply transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ==================== Helpers ====================

func fromModels(models []transactionModel) ([]*transaction.Record, error) {
	result := make([]*transaction.Record, len(models))
	for i := range models {
		r, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
