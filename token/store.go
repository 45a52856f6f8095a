package token

import "sync"

// Store keeps the current token pair in memory. All updates replace the pair
// as a whole, so readers never observe an access token from one session and
// a refresh token from another.
type Store struct {
	mu   sync.RWMutex
	pair Pair
}

func NewStore() *Store {
	return &Store{}
}

// Pair returns the current pair.
func (s *Store) Pair() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// Access returns the current access token, or "" when unauthenticated.
func (s *Store) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Access
}

// Refresh returns the current refresh token, or "" when unauthenticated.
func (s *Store) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.Refresh
}

// Set replaces the stored pair.
func (s *Store) Set(pair Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
}

// Clear removes both tokens.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = Pair{}
}
