package quote

import (
	"context"
	"fmt"
	"sync"
)

// Store persists quotes by number.
type Store interface {
	Save(ctx context.Context, q ShippingQuote) error
	Get(ctx context.Context, number string) (ShippingQuote, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	quotes map[string]ShippingQuote
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{quotes: make(map[string]ShippingQuote)}
}

// Save stores a copy of q.
func (s *MemoryStore) Save(ctx context.Context, q ShippingQuote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Number] = q.Clone()
	return nil
}

// Get returns a copy of the quote stored under number.
func (s *MemoryStore) Get(ctx context.Context, number string) (ShippingQuote, error) {
	if err := ctx.Err(); err != nil {
		return ShippingQuote{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[number]
	if !ok {
		return ShippingQuote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, number)
	}
	return q.Clone(), nil
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)
