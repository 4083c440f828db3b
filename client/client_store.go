package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.pilab.hu/authz/domain"
)

// MemoryStore is a domain.ClientStore kept in process memory. It backs the
// registry when clients are seeded from configuration and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

// NewMemoryStore creates a store seeded with clients.
func NewMemoryStore(clients ...*domain.Client) *MemoryStore {
	s := &MemoryStore{clients: make(map[string]*domain.Client, len(clients))}
	for _, c := range clients {
		s.clients[c.ID] = c
	}
	return s
}

// GetClient returns a copy of the stored client.
func (s *MemoryStore) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[clientID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	cp := *c
	return &cp, nil
}

// CreateClient registers a client, rejecting duplicate identifiers.
func (s *MemoryStore) CreateClient(_ context.Context, c *domain.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c.ID]; ok {
		return fmt.Errorf("client %s: %w", c.ID, domain.ErrDuplicate)
	}

	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.clients[c.ID] = &cp

	return nil
}

var _ domain.ClientStore = (*MemoryStore)(nil)
