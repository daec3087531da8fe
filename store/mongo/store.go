package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/id"
	paywallstore "github.com/erasekit/paywall/store"
	"github.com/erasekit/paywall/transaction"
)

// Collection name constants.
const (
	colEntitlements = "paywall_entitlements"
	colTransactions = "paywall_transactions"
)

// compile-time interface check
var _ paywallstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all paywall collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("paywall/mongo: migrate %s indexes: %w", col, err)
		}
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

	t := now()
	_, err := s.mdb.NewUpdate((*entitlementModel)(nil)).
		Filter(bson.M{"_id": installID}).
		SetUpdate(bson.M{"$setOnInsert": bson.M{
			"is_pro":          false,
			"free_used_count": int64(0),
			"credits":         int64(0),
			"created_at":      t,
			"updated_at":      t,
		}}).
		Upsert().
		Exec(ctx)
	// Two concurrent upserts of a new _id can race; the loser sees a
	// duplicate key and the row exists either way.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("paywall/mongo: upsert entitlement: %w", err)
	}
	return s.getEntitlement(ctx, installID)
}

func (s *Store) getEntitlement(ctx context.Context, installID string) (*entitlement.Entitlement, error) {
	var m entitlementModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": installID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("entitlement %q: %w", installID, paywall.ErrNotFound)
		}
		return nil, fmt.Errorf("paywall/mongo: get entitlement: %w", err)
	}
	return fromEntitlementModel(&m), nil
}

func (s *Store) ApplyUpdate(ctx context.Context, installID string, u entitlement.Update) (*entitlement.Entitlement, error) {
	if !u.Valid() {
		return nil, paywall.ValidationError{Field: "update", Message: "counter deltas must not be negative"}
	}

	set := bson.M{"updated_at": now()}
	if u.IsPro != nil {
		set["is_pro"] = *u.IsPro
	}
	res, err := s.mdb.NewUpdate((*entitlementModel)(nil)).
		Filter(bson.M{"_id": installID}).
		SetUpdate(bson.M{
			"$inc": bson.M{"free_used_count": u.FreeUsedDelta, "credits": u.CreditsDelta},
			"$set": set,
		}).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("paywall/mongo: update entitlement: %w", err)
	}
	if res.MatchedCount() == 0 {
		return nil, fmt.Errorf("entitlement %q: %w", installID, paywall.ErrNotFound)
	}
	return s.getEntitlement(ctx, installID)
}

func (s *Store) IncrementFreeUsed(ctx context.Context, installID string) error {
	_, err := s.ApplyUpdate(ctx, installID, entitlement.Update{FreeUsedDelta: 1})
	return err
}

func (s *Store) ConsumeFree(ctx context.Context, installID string, limit int64) (bool, error) {
	res, err := s.mdb.NewUpdate((*entitlementModel)(nil)).
		Filter(bson.M{"_id": installID, "free_used_count": bson.M{"$lt": limit}}).
		SetUpdate(bson.M{
			"$inc": bson.M{"free_used_count": int64(1)},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/mongo: consume free: %w", err)
	}
	return res.MatchedCount() == 1, nil
}

func (s *Store) ConsumeCredit(ctx context.Context, installID string) (bool, error) {
	res, err := s.mdb.NewUpdate((*entitlementModel)(nil)).
		Filter(bson.M{"_id": installID, "credits": bson.M{"$gt": 0}}).
		SetUpdate(bson.M{
			"$inc": bson.M{"credits": int64(-1)},
			"$set": bson.M{"updated_at": now()},
		}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/mongo: consume credit: %w", err)
	}
	return res.MatchedCount() == 1, nil
}

// ==================== Transaction Store ====================

func (s *Store) Exists(ctx context.Context, transactionID string) (bool, error) {
	n, err := s.mdb.Collection(colTransactions).CountDocuments(ctx, bson.M{"transaction_id": transactionID})
	if err != nil {
		return false, fmt.Errorf("paywall/mongo: exists: %w", err)
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

	if _, err := s.mdb.NewInsert(toTransactionModel(r)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("transaction %q: %w", r.TransactionID, paywall.ErrConflict)
		}
		return fmt.Errorf("paywall/mongo: record transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*transaction.Record, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"transaction_id": transactionID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("transaction %q: %w", transactionID, paywall.ErrNotFound)
		}
		return nil, fmt.Errorf("paywall/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, installID string, opts transaction.ListOpts) ([]*transaction.Record, error) {
	var models []transactionModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{"install_id": installID}).
		Sort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paywall/mongo: list transactions: %w", err)
	}
	return fromTransactionModels(models)
}

func (s *Store) ListUnapplied(ctx context.Context, limit int) ([]*transaction.Record, error) {
	var models []transactionModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{"applied_at": nil}).
		Sort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("paywall/mongo: list unapplied: %w", err)
	}
	return fromTransactionModels(models)
}

// ApplyTransaction credits the entitlement with a single conditional update
// that also records the transaction id on the entitlement document. The
// ledger row's applied_at is set afterwards; if that write is lost the next
// call finds the id already present, sets the marker and reports a replay.
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

	t := now()
	set := bson.M{"updated_at": t}
	if r.GrantsPro {
		set["is_pro"] = true
	}
	res, err := s.mdb.NewUpdate((*entitlementModel)(nil)).
		Filter(bson.M{
			"_id":                  r.InstallID,
			"applied_transactions": bson.M{"$ne": transactionID},
		}).
		SetUpdate(bson.M{
			"$inc":      bson.M{"credits": r.CreditsGranted},
			"$set":      set,
			"$addToSet": bson.M{"applied_transactions": transactionID},
		}).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("paywall/mongo: apply transaction: %w", err)
	}
	applied := res.MatchedCount() == 1

	if _, err := s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{"transaction_id": transactionID, "applied_at": nil}).
		Set("applied_at", t).
		Exec(ctx); err != nil {
		return applied, fmt.Errorf("paywall/mongo: mark transaction applied: %w", err)
	}
	return applied, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all paywall collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{
				Keys:    bson.D{{Key: "transaction_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "original_transaction_id", Value: 1}}},
			{Keys: bson.D{{Key: "install_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "applied_at", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
