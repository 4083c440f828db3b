package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "authz.db")
	store, err := Open(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.ApplyMigrations())

	return store
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	assert.NoError(t, store.ApplyMigrations())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "")
	assert.Error(t, err)
}

func TestClientDetailsStore_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	repo := store.ClientDetails()
	ctx := context.Background()

	c := &domain.Client{
		ID:              "web",
		SecretHash:      "$2a$04$hash",
		GrantTypes:      []string{domain.GrantTypeAuthorizationCode, domain.GrantTypeRefreshToken},
		Scopes:          []string{"read", "write"},
		RedirectURIs:    []string{"https://app/cb"},
		ResourceIDs:     []string{"orders-api"},
		Authorities:     []string{"ROLE_CLIENT"},
		AutoApprove:     []string{"read"},
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 0,
		AdditionalInfo:  map[string]any{"tenant": "acme"},
	}
	require.NoError(t, repo.CreateClient(ctx, c))

	got, err := repo.GetClient(ctx, "web")
	require.NoError(t, err)
	assert.True(t, got.SecretRequired)
	assert.Equal(t, c.GrantTypes, got.GrantTypes)
	assert.Equal(t, c.Scopes, got.Scopes)
	assert.Equal(t, c.RedirectURIs, got.RedirectURIs)
	assert.Equal(t, []string{"orders-api"}, got.ResourceIDs)
	assert.Equal(t, []string{"ROLE_CLIENT"}, got.Authorities)
	assert.Equal(t, []string{"read"}, got.AutoApprove)
	assert.Equal(t, 30*time.Minute, got.AccessTokenTTL)
	assert.Zero(t, got.RefreshTokenTTL)
	assert.Equal(t, "acme", got.AdditionalInfo["tenant"])
}

func TestClientDetailsStore_PublicClient(t *testing.T) {
	store := setupTestStore(t)
	repo := store.ClientDetails()
	ctx := context.Background()

	require.NoError(t, repo.CreateClient(ctx, &domain.Client{
		ID:         "spa",
		GrantTypes: []string{domain.GrantTypeImplicit},
	}))

	got, err := repo.GetClient(ctx, "spa")
	require.NoError(t, err)
	assert.False(t, got.SecretRequired)
	assert.Nil(t, got.Scopes)
	assert.Nil(t, got.AdditionalInfo)
}

func TestClientDetailsStore_Errors(t *testing.T) {
	store := setupTestStore(t)
	repo := store.ClientDetails()
	ctx := context.Background()

	_, err := repo.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c := &domain.Client{ID: "dup", GrantTypes: []string{domain.GrantTypeClientCredentials}}
	require.NoError(t, repo.CreateClient(ctx, c))
	assert.ErrorIs(t, repo.CreateClient(ctx, c), domain.ErrDuplicate)
}

func TestClientDetailsStore_ParsesSpringRows(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.db.ExecContext(ctx, `INSERT INTO oauth_client_details
		(client_id, client_secret, scope, authorized_grant_types, web_server_redirect_uri,
		 access_token_validity, autoapprove)
		VALUES ('legacy', '{bcrypt}$2a$04$x', 'read, write', 'password,refresh_token', '', 3600, 'true')`)
	require.NoError(t, err)

	got, err := store.ClientDetails().GetClient(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, got.Scopes)
	assert.Equal(t, []string{domain.GrantTypePassword, domain.GrantTypeRefreshToken}, got.GrantTypes)
	assert.Nil(t, got.RedirectURIs)
	assert.Equal(t, time.Hour, got.AccessTokenTTL)
	assert.True(t, got.AutoApproves([]string{"anything"}))
}
