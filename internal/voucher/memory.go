package voucher

import (
	"context"
	"sync"
)

// MemoryStore is an in-process voucher store for tests and single-process
// deployments. Vouchers do not expire; the mutex gives TakeOnce the same
// one-winner guarantee as the Redis store.
type MemoryStore struct {
	mu       sync.Mutex
	vouchers map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vouchers: make(map[string][]byte)}
}

// Put stores the order under the token.
func (s *MemoryStore) Put(_ context.Context, token string, order []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vouchers[token] = order
	return nil
}

// TakeOnce returns the order and removes the mapping under the lock.
func (s *MemoryStore) TakeOnce(_ context.Context, token string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.vouchers[token]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.vouchers, token)
	return order, nil
}

// Len reports the number of stored vouchers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vouchers)
}
