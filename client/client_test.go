package client_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/auth"
)

type MockClientStore struct {
	mock.Mock
}

func (m *MockClientStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

func (m *MockClientStore) CreateClient(ctx context.Context, c *domain.Client) error {
	return m.Called(ctx, c).Error(0)
}

func newRegistry(t *testing.T) (*client.Registry, *auth.BcryptPasswordHasher) {
	t.Helper()

	hasher := auth.NewBcryptPasswordHasher(4)
	hash, err := hasher.Hash("s3cret")
	require.NoError(t, err)

	store := client.NewMemoryStore(
		&domain.Client{
			ID:             "c1",
			SecretHash:     hash,
			SecretRequired: true,
			GrantTypes:     []string{domain.GrantTypeAuthorizationCode, domain.GrantTypeRefreshToken},
			Scopes:         []string{"read", "write"},
			RedirectURIs:   []string{"https://app/cb"},
		},
		&domain.Client{
			ID:           "spa",
			GrantTypes:   []string{domain.GrantTypeAuthorizationCode},
			Scopes:       []string{"read"},
			RedirectURIs: []string{"https://spa/cb", "https://spa/alt"},
		},
	)

	return client.NewRegistry(store, hasher), hasher
}

func TestRegistry_Resolve(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	c, err := reg.Resolve(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)

	_, err = reg.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, client.ErrClientNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.Resolve(ctx, "")
	assert.ErrorIs(t, err, client.ErrClientNotFound)
}

func TestRegistry_ResolveStoreFailure(t *testing.T) {
	store := new(MockClientStore)
	store.On("GetClient", mock.Anything, "c1").Return(nil, errors.New("connection reset"))

	reg := client.NewRegistry(store, auth.NewBcryptPasswordHasher(4))
	_, err := reg.Resolve(context.Background(), "c1")

	require.Error(t, err)
	assert.NotErrorIs(t, err, client.ErrClientNotFound)
	store.AssertExpectations(t)
}

func TestRegistry_Authenticate(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  error
	}{
		{"confidential with right secret", "c1", "s3cret", nil},
		{"confidential with wrong secret", "c1", "guess", client.ErrUnauthorized},
		{"confidential without secret", "c1", "", client.ErrUnauthorized},
		{"unknown client", "ghost", "s3cret", client.ErrClientNotFound},
		{"public client by id", "spa", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := reg.Authenticate(ctx, tt.clientID, tt.secret)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.clientID, c.ID)
		})
	}
}

func TestRegistry_ResolveRedirectURI(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()
	c1, _ := reg.Resolve(ctx, "c1")
	spa, _ := reg.Resolve(ctx, "spa")

	uri, err := reg.ResolveRedirectURI(c1, "")
	require.NoError(t, err)
	assert.Equal(t, "https://app/cb", uri)

	uri, err = reg.ResolveRedirectURI(spa, "https://spa/alt")
	require.NoError(t, err)
	assert.Equal(t, "https://spa/alt", uri)

	_, err = reg.ResolveRedirectURI(spa, "")
	assert.ErrorIs(t, err, client.ErrInvalidRedirectURI)

	_, err = reg.ResolveRedirectURI(c1, "https://app/cb/../evil")
	assert.ErrorIs(t, err, client.ErrInvalidRedirectURI)
}

func TestRegistry_ValidateScopes(t *testing.T) {
	reg, _ := newRegistry(t)
	c1, _ := reg.Resolve(context.Background(), "c1")

	scopes, err := reg.ValidateScopes(c1, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, scopes)

	scopes, err = reg.ValidateScopes(c1, []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, scopes)

	_, err = reg.ValidateScopes(c1, []string{"read", "admin"})
	var scopeErr *client.ScopeError
	require.ErrorAs(t, err, &scopeErr)
	assert.Equal(t, "admin", scopeErr.Scope)
}

func TestMemoryStore_CreateClient(t *testing.T) {
	store := client.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateClient(ctx, &domain.Client{ID: "x"}))
	assert.ErrorIs(t, store.CreateClient(ctx, &domain.Client{ID: "x"}), domain.ErrDuplicate)

	got, err := store.GetClient(ctx, "x")
	require.NoError(t, err)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestRegistry_RegisterClient(t *testing.T) {
	registry, _ := newRegistry(t)
	ctx := context.Background()

	c := &domain.Client{
		ID:         "cli",
		GrantTypes: []string{domain.GrantTypeClientCredentials},
		Scopes:     []string{"write"},
	}
	require.NoError(t, registry.RegisterClient(ctx, c, "p4ss"))
	assert.True(t, c.SecretRequired)
	assert.NotEqual(t, "p4ss", c.SecretHash)

	got, err := registry.Authenticate(ctx, "cli", "p4ss")
	require.NoError(t, err)
	assert.Equal(t, "cli", got.ID)

	err = registry.RegisterClient(ctx, &domain.Client{ID: "cli", GrantTypes: c.GrantTypes}, "other")
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	assert.Error(t, registry.RegisterClient(ctx, &domain.Client{ID: "empty"}, ""))
}

func TestRegistry_RegisterClientRejectsPublicClientCredentials(t *testing.T) {
	registry, _ := newRegistry(t)
	ctx := context.Background()

	err := registry.RegisterClient(ctx, &domain.Client{
		ID:         "pub",
		GrantTypes: []string{domain.GrantTypeClientCredentials, domain.GrantTypeAuthorizationCode},
		Scopes:     []string{"write"},
	}, "")
	require.ErrorIs(t, err, client.ErrPublicClientCredentials)

	_, err = registry.Resolve(ctx, "pub")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// the same client without client_credentials may stay public
	require.NoError(t, registry.RegisterClient(ctx, &domain.Client{
		ID:         "pub",
		GrantTypes: []string{domain.GrantTypeAuthorizationCode},
		Scopes:     []string{"write"},
	}, ""))
}
