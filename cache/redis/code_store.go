package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/crypto"
)

// CodeStore implements domain.AuthorizationCodeStore using Redis.
type CodeStore struct {
	client redis.UniversalClient
	prefix string
}

// NewCodeStore creates a new [CodeStore] instance.
func NewCodeStore(client redis.UniversalClient, prefix string) *CodeStore {
	return &CodeStore{
		client: client,
		prefix: prefix,
	}
}

func (s *CodeStore) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, crypto.HashToken(code))
}

// usedKey marks a consumed code for the rest of its lifetime.
func (s *CodeStore) usedKey(code string) string {
	return fmt.Sprintf("%scode_used:%s", s.prefix, crypto.HashToken(code))
}

// SaveAuthorizationGrant implements domain.AuthorizationCodeStore.
func (s *CodeStore) SaveAuthorizationGrant(ctx context.Context, grant *domain.AuthorizationGrant) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization grant: %w", err)
	}

	ttl := time.Until(grant.ExpiresAt)
	if ttl <= 0 {
		return errors.New("authorization grant already expired")
	}

	ok, err := s.client.SetNX(ctx, s.codeKey(grant.Code), data, ttl).Result()
	if err != nil {
		return mapErr("save authorization grant", err)
	}
	if !ok {
		return domain.ErrDuplicate
	}

	return nil
}

// ConsumeAuthorizationGrant implements domain.AuthorizationCodeStore. GETDEL
// is the compare-and-swap: the first caller removes the code, every later
// caller finds nothing.
func (s *CodeStore) ConsumeAuthorizationGrant(ctx context.Context, code string) (*domain.AuthorizationGrant, error) {
	data, err := s.client.GetDel(ctx, s.codeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		used, existsErr := s.client.Exists(ctx, s.usedKey(code)).Result()
		if existsErr == nil && used > 0 {
			return nil, domain.ErrAlreadyConsumed
		}
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("consume authorization grant", err)
	}

	var grant domain.AuthorizationGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization grant: %w", err)
	}
	grant.Code = code
	grant.Used = true

	if ttl := time.Until(grant.ExpiresAt); ttl > 0 {
		if err := s.client.Set(ctx, s.usedKey(code), "1", ttl).Err(); err != nil {
			return nil, mapErr("mark authorization grant used", err)
		}
	}

	return &grant, nil
}

var _ domain.AuthorizationCodeStore = (*CodeStore)(nil)
