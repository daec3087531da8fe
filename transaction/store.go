package transaction

import "context"

// Store is the transaction ledger.
type Store interface {
	Exists(ctx context.Context, transactionID string) (bool, error)
	// Record inserts r. A second insert of the same TransactionID fails with a conflict.
	Record(ctx context.Context, r *Record) error
	GetTransaction(ctx context.Context, transactionID string) (*Record, error)
	ListTransactions(ctx context.Context, installID string, opts ListOpts) ([]*Record, error)
	// ListUnapplied returns rows whose effect has not reached the entitlement yet.
	ListUnapplied(ctx context.Context, limit int) ([]*Record, error)
}
