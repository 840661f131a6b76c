package token

import "sync"

// Store persists the access and refresh tokens. Both are written and cleared
// together; a Store never holds one token from an older pair.
type Store interface {
	Load() (Pair, error)
	Save(pair Pair) error
	Clear() error
}

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps tokens for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, nil
}

func (s *MemoryStore) Save(pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
	return nil
}
