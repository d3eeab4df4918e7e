package store

import (
	"context"
	"time"

	"bookguard/csrf"

	"github.com/facebookgo/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	rec       csrf.TokenRecord
	expiresAt time.Time
}

// MemoryTokenStore keeps token records in a size-bounded in-process LRU. The
// LRU's own TTL bounds memory; per-record expiry is checked on Get.
type MemoryTokenStore struct {
	lru   *expirable.LRU[string, memoryEntry]
	clock clock.Clock
}

// NewMemoryTokenStore creates a store holding at most capacity records, none
// kept longer than maxTTL. A nil clock uses wall time.
func NewMemoryTokenStore(capacity int, maxTTL time.Duration, clk clock.Clock) *MemoryTokenStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryTokenStore{
		lru:   expirable.NewLRU[string, memoryEntry](capacity, nil, maxTTL),
		clock: clk,
	}
}

// Get returns the record for key, or nil when absent or expired
func (s *MemoryTokenStore) Get(_ context.Context, key string) (*csrf.TokenRecord, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, nil
	}
	if !s.clock.Now().Before(e.expiresAt) {
		s.lru.Remove(key)
		return nil, nil
	}
	rec := e.rec
	return &rec, nil
}

// Set stores rec under key for ttl
func (s *MemoryTokenStore) Set(_ context.Context, key string, rec csrf.TokenRecord, ttl time.Duration) error {
	s.lru.Add(key, memoryEntry{rec: rec, expiresAt: s.clock.Now().Add(ttl)})
	return nil
}

// Delete removes key
func (s *MemoryTokenStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// TTL reports the remaining lifetime of key, negative when absent
func (s *MemoryTokenStore) TTL(_ context.Context, key string) (time.Duration, error) {
	e, ok := s.lru.Peek(key)
	if !ok {
		return -1, nil
	}
	return e.expiresAt.Sub(s.clock.Now()), nil
}

// Len returns the number of records held
func (s *MemoryTokenStore) Len() int {
	return s.lru.Len()
}

// Close drops every record. The LRU's expiry goroutine has no stop hook and
// lives until the process exits.
func (s *MemoryTokenStore) Close() error {
	s.lru.Purge()
	return nil
}
