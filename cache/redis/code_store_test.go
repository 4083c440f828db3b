package redis

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

func newGrant(code string) *domain.AuthorizationGrant {
	now := time.Now()
	return &domain.AuthorizationGrant{
		Code: code,
		Request: domain.AuthorizationRequest{
			ID:          "req-1",
			ClientID:    "web",
			Scopes:      []string{"read"},
			RedirectURI: "https://app.example.com/cb",
			Principal:   &domain.Principal{Subject: "alice"},
		},
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestCodeStore_ConsumeOnce(t *testing.T) {
	_, client := newTestClient(t)
	store := NewCodeStore(client, "test:")
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationGrant(ctx, newGrant("code-1")))

	grant, err := store.ConsumeAuthorizationGrant(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "code-1", grant.Code)
	assert.True(t, grant.Used)
	assert.Equal(t, "alice", grant.Request.Principal.Subject)

	_, err = store.ConsumeAuthorizationGrant(ctx, "code-1")
	assert.ErrorIs(t, err, domain.ErrAlreadyConsumed)

	_, err = store.ConsumeAuthorizationGrant(ctx, "never-issued")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCodeStore_DuplicateCode(t *testing.T) {
	_, client := newTestClient(t)
	store := NewCodeStore(client, "test:")
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationGrant(ctx, newGrant("code-1")))
	assert.ErrorIs(t, store.SaveAuthorizationGrant(ctx, newGrant("code-1")), domain.ErrDuplicate)
}

func TestCodeStore_ExpiredCodeIsGone(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewCodeStore(client, "test:")
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationGrant(ctx, newGrant("code-1")))
	mr.FastForward(11 * time.Minute)

	_, err := store.ConsumeAuthorizationGrant(ctx, "code-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCodeStore_ConcurrentConsume(t *testing.T) {
	_, client := newTestClient(t)
	store := NewCodeStore(client, "test:")
	ctx := context.Background()

	require.NoError(t, store.SaveAuthorizationGrant(ctx, newGrant("code-1")))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAuthorizationGrant(ctx, "code-1"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
