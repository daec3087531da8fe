package receipt

import (
	"context"
	"sync"
)

// Static is an in-memory Verifier keyed by raw receipt. Unknown receipts are
// rejected. It is meant for tests and local development.
type Static struct {
	mu      sync.Mutex
	results map[string]*Result
	err     error
	calls   int
}

// NewStatic creates an empty Static verifier.
func NewStatic() *Static {
	return &Static{results: make(map[string]*Result)}
}

// Accept registers a valid transaction for raw.
func (s *Static) Accept(raw, productID, transactionID string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[raw] = &Result{
		Valid:                 true,
		Environment:           "sandbox",
		TransactionID:         transactionID,
		OriginalTransactionID: transactionID,
		ProductID:             productID,
	}
	return s
}

// Set registers an arbitrary result for raw.
func (s *Static) Set(raw string, r *Result) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[raw] = r
	return s
}

// FailWith makes every call return err.
func (s *Static) FailWith(err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Calls returns the number of Verify calls.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Verify implements Verifier.
func (s *Static) Verify(_ context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.err != nil {
		return nil, s.err
	}
	r, ok := s.results[req.Receipt]
	if !ok {
		return Invalid("unknown receipt"), nil
	}
	if r.Valid && r.ProductID != req.ProductID {
		return Invalid("product not found in receipt"), nil
	}
	out := *r
	return &out, nil
}
