package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/crypto"
)

// MemoryTokenStore implements domain.TokenStore using ttlcache. It is the
// reference implementation: a single process, no persistence.
type MemoryTokenStore struct {
	// mu serializes multi-key operations (pair save, cascading revoke).
	mu    sync.Mutex
	cache *ttlcache.Cache[string, *domain.TokenRecord]
	now   func() time.Time
}

// MemoryOption configures a MemoryTokenStore.
type MemoryOption func(*MemoryTokenStore)

// WithClock replaces the clock used for expiry checks.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryTokenStore) {
		s.now = now
	}
}

// NewMemoryTokenStore creates a new in-memory token store with automatic cleanup.
// Call Close to stop the cleanup goroutine.
func NewMemoryTokenStore(opts ...MemoryOption) *MemoryTokenStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.TokenRecord](),
	)

	s := &MemoryTokenStore{
		cache: cache,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Start the cleanup process
	go cache.Start()

	return s
}

func cacheTTL(rec *domain.TokenRecord, now time.Time) time.Duration {
	if ttl := rec.TTL(now); ttl > 0 {
		return ttl
	}
	return ttlcache.NoTTL
}

// Save implements domain.TokenStore.Save.
func (s *MemoryTokenStore) Save(_ context.Context, access *domain.TokenRecord, refresh *domain.TokenRecord) error {
	if access == nil || access.Value == "" {
		return fmt.Errorf("access token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	a := *access
	if refresh != nil {
		r := *refresh
		a.LinkedValue = r.Value
		r.LinkedValue = a.Value
		s.cache.Set(crypto.HashToken(r.Value), &r, cacheTTL(&r, now))
	}
	s.cache.Set(crypto.HashToken(a.Value), &a, cacheTTL(&a, now))

	return nil
}

// Load implements domain.TokenStore.Load.
func (s *MemoryTokenStore) Load(_ context.Context, value string) (*domain.TokenRecord, error) {
	return s.load(value)
}

func (s *MemoryTokenStore) load(value string) (*domain.TokenRecord, error) {
	item := s.cache.Get(crypto.HashToken(value))
	if item == nil {
		return nil, domain.ErrNotFound
	}

	rec := *item.Value()
	if rec.Expired(s.now()) {
		return nil, domain.ErrNotFound
	}

	return &rec, nil
}

// LoadByRefreshToken implements domain.TokenStore.LoadByRefreshToken.
func (s *MemoryTokenStore) LoadByRefreshToken(_ context.Context, refreshValue string) (*domain.TokenRecord, error) {
	refresh, err := s.load(refreshValue)
	if err != nil {
		return nil, err
	}
	if refresh.Kind != domain.TokenKindRefresh || refresh.LinkedValue == "" {
		return nil, domain.ErrNotFound
	}

	return s.load(refresh.LinkedValue)
}

// Revoke implements domain.TokenStore.Revoke.
func (s *MemoryTokenStore) Revoke(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := crypto.HashToken(value)
	item := s.cache.Get(key)
	if item == nil {
		return domain.ErrNotFound
	}

	s.cache.Delete(key)
	if linked := item.Value().LinkedValue; linked != "" {
		s.cache.Delete(crypto.HashToken(linked))
	}

	return nil
}

// Count counts the number of tokens in the cache.
func (s *MemoryTokenStore) Count() int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine.
func (s *MemoryTokenStore) Close() error {
	s.cache.Stop()

	return nil
}

var _ domain.TokenStore = (*MemoryTokenStore)(nil)
