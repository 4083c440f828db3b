package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/domain"
)

func testGrant(code string) *domain.AuthorizationGrant {
	now := time.Now()
	return &domain.AuthorizationGrant{
		Code: code,
		Request: domain.AuthorizationRequest{
			ClientID:    "c1",
			Scopes:      []string{"read"},
			RedirectURI: "https://app/cb",
			Principal:   &domain.Principal{Subject: "alice"},
		},
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestMemoryCodeStore_ConsumeOnce(t *testing.T) {
	store := NewMemoryCodeStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationGrant(ctx, testGrant("ABC123")))

	g, err := store.ConsumeAuthorizationGrant(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "ABC123", g.Code)
	assert.Equal(t, "https://app/cb", g.Request.RedirectURI)
	assert.True(t, g.Used)

	_, err = store.ConsumeAuthorizationGrant(ctx, "ABC123")
	assert.ErrorIs(t, err, domain.ErrAlreadyConsumed)

	_, err = store.ConsumeAuthorizationGrant(ctx, "XYZ")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryCodeStore_ConcurrentConsume(t *testing.T) {
	store := NewMemoryCodeStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationGrant(ctx, testGrant("ABC123")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthorizationGrant(ctx, "ABC123"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryCodeStore_Cleanup(t *testing.T) {
	store := NewMemoryCodeStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	g := testGrant("old")
	g.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, store.SaveAuthorizationGrant(ctx, g))

	store.cleanup()

	_, err := store.ConsumeAuthorizationGrant(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuthorizationRequestStore(t *testing.T) {
	store := NewAuthorizationRequestStore()
	defer store.Close()
	ctx := context.Background()

	req := &domain.AuthorizationRequest{
		ID:        "req-1",
		ClientID:  "c1",
		Status:    domain.StatusAwaitingUserAuthentication,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, store.SaveAuthorizationRequest(ctx, req))

	got, err := store.GetAuthorizationRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingUserAuthentication, got.Status)

	got.Status = domain.StatusAwaitingConsent
	require.NoError(t, store.SaveAuthorizationRequest(ctx, got))

	again, err := store.GetAuthorizationRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingConsent, again.Status)

	_, err = store.GetAuthorizationRequest(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
