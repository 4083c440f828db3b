package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/crypto"
)

// MemoryCodeStore keeps authorization codes in process memory. Consumed codes
// stay until they expire so a replay is reported as such.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]*domain.AuthorizationGrant
	// cleanupInterval is how often cleanup runs
	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// NewMemoryCodeStore creates a new code store with the specified cleanup interval
func NewMemoryCodeStore(cleanupInterval time.Duration) *MemoryCodeStore {
	s := &MemoryCodeStore{
		codes:           make(map[string]*domain.AuthorizationGrant),
		cleanupInterval: cleanupInterval,
		done:            make(chan struct{}),
	}

	// Start cleanup goroutine
	go s.cleanupLoop()

	return s
}

// SaveAuthorizationGrant implements domain.AuthorizationCodeStore.
func (s *MemoryCodeStore) SaveAuthorizationGrant(ctx context.Context, grant *domain.AuthorizationGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := *grant
	s.codes[crypto.HashToken(grant.Code)] = &g

	log.Ctx(ctx).Debug().
		Str("client_id", grant.Request.ClientID).
		Time("expires_at", grant.ExpiresAt).
		Msg("authorization code stored")

	return nil
}

// ConsumeAuthorizationGrant implements domain.AuthorizationCodeStore. The
// check of the used flag and its update happen under one lock.
func (s *MemoryCodeStore) ConsumeAuthorizationGrant(_ context.Context, code string) (*domain.AuthorizationGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.codes[crypto.HashToken(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if g.Used {
		return nil, domain.ErrAlreadyConsumed
	}

	g.Used = true
	out := *g
	out.Code = code

	return &out, nil
}

// cleanup removes expired codes
func (s *MemoryCodeStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, g := range s.codes {
		if g.Expired(now) {
			delete(s.codes, key)
		}
	}
}

// cleanupLoop runs the cleanup process periodically
func (s *MemoryCodeStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

// Close stops the cleanup goroutine.
func (s *MemoryCodeStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

var _ domain.AuthorizationCodeStore = (*MemoryCodeStore)(nil)
