package entitlement

import "context"

// Store persists entitlements. Counter mutations are atomic per install.
type Store interface {
	// GetOrCreate returns the row for installID, inserting a zero row if absent.
	GetOrCreate(ctx context.Context, installID string) (*Entitlement, error)
	// ApplyUpdate merges u into an existing row and bumps UpdatedAt.
	ApplyUpdate(ctx context.Context, installID string, u Update) (*Entitlement, error)
	IncrementFreeUsed(ctx context.Context, installID string) error
	// ConsumeFree increments the free counter only while it is below limit.
	ConsumeFree(ctx context.Context, installID string, limit int64) (bool, error)
	// ConsumeCredit decrements the credit balance only while it is positive.
	ConsumeCredit(ctx context.Context, installID string) (bool, error)
}
