package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/authz/domain"
)

// expiredRetention keeps a timed out request around so callers see Expired
// instead of an unknown request id.
const expiredRetention = time.Minute

// AuthorizationRequestStore holds pending authorization requests.
type AuthorizationRequestStore struct {
	cache *ttlcache.Cache[string, *domain.AuthorizationRequest]
}

// NewAuthorizationRequestStore creates the store and starts its eviction loop.
func NewAuthorizationRequestStore() *AuthorizationRequestStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.AuthorizationRequest](),
	)
	go cache.Start()

	return &AuthorizationRequestStore{cache: cache}
}

// SaveAuthorizationRequest implements domain.AuthorizationRequestStore.
func (s *AuthorizationRequestStore) SaveAuthorizationRequest(_ context.Context, req *domain.AuthorizationRequest) error {
	r := *req
	ttl := time.Until(req.ExpiresAt) + expiredRetention
	if ttl <= 0 {
		ttl = expiredRetention
	}
	s.cache.Set(req.ID, &r, ttl)

	return nil
}

// GetAuthorizationRequest implements domain.AuthorizationRequestStore.
func (s *AuthorizationRequestStore) GetAuthorizationRequest(_ context.Context, id string) (*domain.AuthorizationRequest, error) {
	item := s.cache.Get(id)
	if item == nil {
		return nil, domain.ErrNotFound
	}

	r := *item.Value()
	return &r, nil
}

// Close stops the eviction loop.
func (s *AuthorizationRequestStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ domain.AuthorizationRequestStore = (*AuthorizationRequestStore)(nil)
