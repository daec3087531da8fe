// Package memory is an in-process Store for tests, development and single
// replica deployments. All state is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/erasekit/paywall"
	"github.com/erasekit/paywall/entitlement"
	"github.com/erasekit/paywall/id"
	"github.com/erasekit/paywall/store"
	"github.com/erasekit/paywall/transaction"
)

type Store struct {
	mu     sync.RWMutex
	closed bool

	// Entitlements keyed by install id
	entitlements map[string]*entitlement.Entitlement

	// Ledger rows keyed by platform transaction id
	transactions map[string]*transaction.Record
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		entitlements: make(map[string]*entitlement.Entitlement),
		transactions: make(map[string]*transaction.Record),
	}
}

// Entitlement Store implementation

func (s *Store) GetOrCreate(_ context.Context, installID string) (*entitlement.Entitlement, error) {
	if installID == "" {
		return nil, paywall.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, paywall.ErrStoreClosed
	}

	e, ok := s.entitlements[installID]
	if !ok {
		e = entitlement.New(installID)
		s.entitlements[installID] = e
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ApplyUpdate(_ context.Context, installID string, u entitlement.Update) (*entitlement.Entitlement, error) {
	if !u.Valid() {
		return nil, paywall.ValidationError{Field: "update", Message: "counter deltas must not be negative"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, paywall.ErrStoreClosed
	}

	e, ok := s.entitlements[installID]
	if !ok {
		return nil, fmt.Errorf("entitlement %q: %w", installID, paywall.ErrNotFound)
	}
	u.Apply(e)
	cp := *e
	return &cp, nil
}

func (s *Store) IncrementFreeUsed(ctx context.Context, installID string) error {
	_, err := s.ApplyUpdate(ctx, installID, entitlement.Update{FreeUsedDelta: 1})
	return err
}

func (s *Store) ConsumeFree(_ context.Context, installID string, limit int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, paywall.ErrStoreClosed
	}

	e, ok := s.entitlements[installID]
	if !ok || e.FreeUsedCount >= limit {
		return false, nil
	}
	e.FreeUsedCount++
	e.Touch()
	return true, nil
}

func (s *Store) ConsumeCredit(_ context.Context, installID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, paywall.ErrStoreClosed
	}

	e, ok := s.entitlements[installID]
	if !ok || e.Credits <= 0 {
		return false, nil
	}
	e.Credits--
	e.Touch()
	return true, nil
}

// Transaction Store implementation

func (s *Store) Exists(_ context.Context, transactionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, paywall.ErrStoreClosed
	}

	_, ok := s.transactions[transactionID]
	return ok, nil
}

func (s *Store) Record(_ context.Context, r *transaction.Record) error {
	if r.TransactionID == "" {
		return paywall.ValidationError{Field: "transaction_id", Message: "required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return paywall.ErrStoreClosed
	}

	if _, exists := s.transactions[r.TransactionID]; exists {
		return fmt.Errorf("transaction %q: %w", r.TransactionID, paywall.ErrConflict)
	}
	if r.ID.IsNil() {
		r.ID = id.NewTransactionID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := *r
	s.transactions[r.TransactionID] = &cp
	return nil
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, paywall.ErrStoreClosed
	}

	if r, ok := s.transactions[transactionID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, fmt.Errorf("transaction %q: %w", transactionID, paywall.ErrNotFound)
}

func (s *Store) ListTransactions(_ context.Context, installID string, opts transaction.ListOpts) ([]*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, paywall.ErrStoreClosed
	}

	result := make([]*transaction.Record, 0)
	for _, r := range s.transactions {
		if r.InstallID == installID {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListUnapplied(_ context.Context, limit int) ([]*transaction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, paywall.ErrStoreClosed
	}

	result := make([]*transaction.Record, 0)
	for _, r := range s.transactions {
		if !r.Applied() {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return page(result, 0, limit), nil
}

// ApplyTransaction runs under the store lock, which makes the marker and the
// entitlement change one unit.
func (s *Store) ApplyTransaction(_ context.Context, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, paywall.ErrStoreClosed
	}

	r, ok := s.transactions[transactionID]
	if !ok {
		return false, fmt.Errorf("transaction %q: %w", transactionID, paywall.ErrNotFound)
	}
	if r.Applied() {
		return false, nil
	}

	e, ok := s.entitlements[r.InstallID]
	if !ok {
		e = entitlement.New(r.InstallID)
		s.entitlements[r.InstallID] = e
	}
	u := entitlement.Update{CreditsDelta: r.CreditsGranted}
	if r.GrantsPro {
		u.IsPro = entitlement.Bool(true)
	}
	u.Apply(e)

	now := time.Now().UTC()
	r.AppliedAt = &now
	return true, nil
}

// Core methods

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return paywall.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
