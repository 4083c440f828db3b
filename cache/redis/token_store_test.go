package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/domain"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func tokenPair(now time.Time) (*domain.TokenRecord, *domain.TokenRecord) {
	access := &domain.TokenRecord{
		Value:     "access-1",
		Kind:      domain.TokenKindAccess,
		ClientID:  "web",
		GrantType: domain.GrantTypeAuthorizationCode,
		Scopes:    []string{"read"},
		Principal: &domain.Principal{Subject: "alice"},
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}
	refresh := &domain.TokenRecord{
		Value:     "refresh-1",
		Kind:      domain.TokenKindRefresh,
		ClientID:  "web",
		GrantType: domain.GrantTypeAuthorizationCode,
		Scopes:    []string{"read"},
		Principal: &domain.Principal{Subject: "alice"},
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	return access, refresh
}

func TestTokenStore_SaveAndLoad(t *testing.T) {
	_, client := newTestClient(t)
	store := NewTokenStore(client, "test:")
	ctx := context.Background()

	access, refresh := tokenPair(time.Now())
	require.NoError(t, store.Save(ctx, access, refresh))

	got, err := store.Load(ctx, "access-1")
	require.NoError(t, err)
	assert.Equal(t, "web", got.ClientID)
	assert.Equal(t, "alice", got.Subject())
	assert.Equal(t, "refresh-1", got.LinkedValue)

	byRefresh, err := store.LoadByRefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", byRefresh.Value)

	// the caller's records are not mutated
	assert.Empty(t, access.LinkedValue)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestTokenStore_KeysAreHashed(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewTokenStore(client, "test:")

	access, _ := tokenPair(time.Now())
	require.NoError(t, store.Save(context.Background(), access, nil))

	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "access-1")
	}
}

func TestTokenStore_LoadUnknown(t *testing.T) {
	_, client := newTestClient(t)
	store := NewTokenStore(client, "test:")

	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = store.LoadByRefreshToken(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenStore_Expiry(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewTokenStore(client, "test:")
	ctx := context.Background()

	access, refresh := tokenPair(time.Now())
	access.ExpiresAt = time.Now().Add(time.Minute)
	refresh.ExpiresAt = time.Time{}
	require.NoError(t, store.Save(ctx, access, refresh))

	mr.FastForward(2 * time.Minute)

	_, err := store.Load(ctx, "access-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// refresh token without expiry is kept
	_, err = store.Load(ctx, "refresh-1")
	assert.NoError(t, err)
}

func TestTokenStore_ExpiredRecordNotReturned(t *testing.T) {
	_, client := newTestClient(t)
	store := NewTokenStore(client, "test:")
	ctx := context.Background()

	now := time.Now()
	access, _ := tokenPair(now)
	access.ExpiresAt = now.Add(time.Second)
	require.NoError(t, store.Save(ctx, access, nil))

	// the key outlives the record when clocks drift
	store.now = func() time.Time { return now.Add(time.Second) }

	_, err := store.Load(ctx, "access-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenStore_RevokeCascades(t *testing.T) {
	_, client := newTestClient(t)
	store := NewTokenStore(client, "test:")
	ctx := context.Background()

	access, refresh := tokenPair(time.Now())
	require.NoError(t, store.Save(ctx, access, refresh))

	require.NoError(t, store.Revoke(ctx, "refresh-1"))

	_, err := store.Load(ctx, "access-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Load(ctx, "refresh-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, store.Revoke(ctx, "refresh-1"), domain.ErrNotFound)
}

func TestTokenStore_ConcurrentRevokeSingleWinner(t *testing.T) {
	_, client := newTestClient(t)
	store := NewTokenStore(client, "test:")
	ctx := context.Background()

	access, refresh := tokenPair(time.Now())
	require.NoError(t, store.Save(ctx, access, refresh))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Revoke(ctx, "refresh-1") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestTokenStore_ConnectionFailure(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewTokenStore(client, "test:")
	mr.Close()

	_, err := store.Load(context.Background(), "access-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}
