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

// TokenStore implements domain.TokenStore using Redis. Records are stored
// as JSON under their hashed value and expire with the token.
type TokenStore struct {
	client redis.UniversalClient
	prefix string // Optional prefix for keys
	now    func() time.Time
}

// NewTokenStore creates a new [TokenStore] instance. Passing a client built
// against miniredis is how the store is tested.
func NewTokenStore(client redis.UniversalClient, prefix string) *TokenStore {
	return &TokenStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// redisKey returns the Redis key for a given token
func (r *TokenStore) redisKey(token string) string {
	return fmt.Sprintf("%stoken:%s", r.prefix, crypto.HashToken(token))
}

func (r *TokenStore) set(ctx context.Context, pipe redis.Pipeliner, rec *domain.TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	// zero TTL keeps the key until revoked
	pipe.Set(ctx, r.redisKey(rec.Value), data, rec.TTL(r.now()))
	return nil
}

// Save implements domain.TokenStore.Save. Both records are written in one
// MULTI/EXEC transaction.
func (r *TokenStore) Save(ctx context.Context, access *domain.TokenRecord, refresh *domain.TokenRecord) error {
	if access == nil || access.Value == "" {
		return errors.New("access token is required")
	}

	a := *access
	var rf *domain.TokenRecord
	if refresh != nil {
		cp := *refresh
		rf = &cp
		a.LinkedValue = rf.Value
		rf.LinkedValue = a.Value
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := r.set(ctx, pipe, &a); err != nil {
			return err
		}
		if rf != nil {
			return r.set(ctx, pipe, rf)
		}
		return nil
	})

	return mapErr("save token", err)
}

func (r *TokenStore) decode(data []byte) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &rec, nil
}

// Load implements domain.TokenStore.Load.
func (r *TokenStore) Load(ctx context.Context, value string) (*domain.TokenRecord, error) {
	data, err := r.client.Get(ctx, r.redisKey(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr("load token", err)
	}

	rec, err := r.decode(data)
	if err != nil {
		return nil, err
	}
	if rec.Expired(r.now()) {
		return nil, domain.ErrNotFound
	}

	return rec, nil
}

// LoadByRefreshToken implements domain.TokenStore.LoadByRefreshToken.
func (r *TokenStore) LoadByRefreshToken(ctx context.Context, refreshValue string) (*domain.TokenRecord, error) {
	refresh, err := r.Load(ctx, refreshValue)
	if err != nil {
		return nil, err
	}
	if refresh.Kind != domain.TokenKindRefresh || refresh.LinkedValue == "" {
		return nil, domain.ErrNotFound
	}

	return r.Load(ctx, refresh.LinkedValue)
}

// Revoke implements domain.TokenStore.Revoke. GETDEL makes the removal of
// the presented token atomic, so only one concurrent revoker succeeds.
func (r *TokenStore) Revoke(ctx context.Context, value string) error {
	data, err := r.client.GetDel(ctx, r.redisKey(value)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return mapErr("revoke token", err)
	}

	rec, err := r.decode(data)
	if err != nil {
		return err
	}

	if rec.LinkedValue != "" {
		if err := r.client.Del(ctx, r.redisKey(rec.LinkedValue)).Err(); err != nil {
			return mapErr("revoke linked token", err)
		}
	}

	return nil
}

// Count returns the number of tokens in Redis
func (r *TokenStore) Count(ctx context.Context) (int, error) {
	pattern := fmt.Sprintf("%stoken:*", r.prefix)
	var count int
	var cursor uint64

	for {
		var keys []string
		var err error
		keys, cursor, err = r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, mapErr("count tokens", err)
		}
		count += len(keys)
		if cursor == 0 {
			break
		}
	}

	return count, nil
}

var _ domain.TokenStore = (*TokenStore)(nil)
