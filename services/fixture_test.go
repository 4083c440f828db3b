package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/cache"
	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/internal/auth"
)

const (
	testSecret   = "s3cret"
	testRedirect = "https://app/cb"
)

type authenticatorFunc func(ctx context.Context, username, password string) (*domain.Principal, error)

func (f authenticatorFunc) Authenticate(ctx context.Context, username, password string) (*domain.Principal, error) {
	return f(ctx, username, password)
}

var staticUsers = authenticatorFunc(func(_ context.Context, username, password string) (*domain.Principal, error) {
	if username == "alice" && password == "wonderland" {
		return &domain.Principal{
			Subject:     "alice",
			Roles:       []string{"ROLE_USER"},
			Permissions: []string{"orders:read"},
		}, nil
	}
	return nil, domain.ErrBadCredentials
})

func testClients() []*domain.Client {
	return []*domain.Client{
		{
			ID:             "c1",
			SecretRequired: true,
			GrantTypes:     []string{domain.GrantTypeAuthorizationCode, domain.GrantTypeRefreshToken},
			Scopes:         []string{"read", "write"},
			RedirectURIs:   []string{testRedirect},
			ResourceIDs:    []string{"orders-api"},
		},
		{
			ID:             "c2",
			SecretRequired: true,
			GrantTypes:     []string{domain.GrantTypeClientCredentials},
			Scopes:         []string{"write"},
			Authorities:    []string{"ROLE_CLIENT"},
		},
		{
			ID:           "spa",
			GrantTypes:   []string{domain.GrantTypeImplicit, domain.GrantTypeAuthorizationCode},
			Scopes:       []string{"read"},
			RedirectURIs: []string{"https://spa/cb"},
			AutoApprove:  []string{domain.AutoApproveAll},
		},
		{
			ID:             "cli",
			SecretRequired: true,
			GrantTypes:     []string{domain.GrantTypePassword, domain.GrantTypeRefreshToken},
			Scopes:         []string{"read"},
		},
	}
}

type fixture struct {
	tokens   *cache.MemoryTokenStore
	codes    *cache.MemoryCodeStore
	requests *cache.AuthorizationRequestStore
	clients  *client.Registry
	engine   *TokenGrantEngine
}

func newFixture(t *testing.T, opts ...func(*EngineConfig)) *fixture {
	t.Helper()

	f := &fixture{
		tokens:   cache.NewMemoryTokenStore(),
		codes:    cache.NewMemoryCodeStore(time.Minute),
		requests: cache.NewAuthorizationRequestStore(),
		clients:  client.NewRegistry(client.NewMemoryStore(testClients()...), auth.NewBcryptPasswordHasher(4)),
	}
	t.Cleanup(func() {
		_ = f.tokens.Close()
		_ = f.codes.Close()
		_ = f.requests.Close()
	})

	cfg := EngineConfig{
		TokenStore:      f.tokens,
		CodeStore:       f.codes,
		Clients:         f.clients,
		Authenticator:   staticUsers,
		Enhancer:        UserAttributeEnhancer{},
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		StoreTimeout:    time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	engine, err := NewTokenGrantEngine(cfg)
	require.NoError(t, err)
	f.engine = engine

	return f
}

func (f *fixture) client(t *testing.T, id string) *domain.Client {
	t.Helper()

	c, err := f.clients.Resolve(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) saveCode(t *testing.T, code string, mutate ...func(*domain.AuthorizationGrant)) {
	t.Helper()

	now := time.Now()
	g := &domain.AuthorizationGrant{
		Code: code,
		Request: domain.AuthorizationRequest{
			ID:                  "req-" + code,
			ClientID:            "c1",
			Scopes:              []string{"read"},
			RedirectURI:         testRedirect,
			RedirectURIProvided: true,
			ResponseType:        domain.ResponseTypeCode,
			Principal:           &domain.Principal{Subject: "alice"},
			Status:              domain.StatusGrantIssued,
		},
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
	for _, m := range mutate {
		m(g)
	}

	require.NoError(t, f.codes.SaveAuthorizationGrant(context.Background(), g))
}

func requireOAuthError(t *testing.T, err error, code string) {
	t.Helper()

	require.Error(t, err)
	require.Truef(t, serrors.Is(err, code), "expected %s, got %v", code, err)
}
