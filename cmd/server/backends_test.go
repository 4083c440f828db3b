package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/config"
	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/log"
)

func testConfig(t *testing.T) *config.ServerConfig {
	t.Helper()

	return &config.ServerConfig{
		Issuer:         "https://auth.example",
		ClientRegistry: config.BackendMemory,
		TokenStore:     config.BackendMemory,
		CodeStore:      config.BackendMemory,
		SQLDriver:      "sqlite",
		SQLDSN:         "file:" + filepath.Join(t.TempDir(), "authz.db"),
		BoltPath:       filepath.Join(t.TempDir(), "codes.bolt"),
		TokenFormat:    config.TokenFormatOpaque,
		Clients: []config.ClientConfig{{
			ID:         "web",
			SecretHash: "$2a$04$abcdefghijklmnopqrstuuJ3n7v2kQ1H8p4o6d0oV4Yk6Y1wQbS1m",
			GrantTypes: []string{domain.GrantTypeAuthorizationCode},
			Scopes:     []string{"read"},
		}},
	}
}

func TestBackends_ClientStoreSeedsConfiguredClients(t *testing.T) {
	ctx := context.Background()

	for _, registry := range []string{config.BackendMemory, config.BackendSQL} {
		t.Run(registry, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.ClientRegistry = registry

			b := newBackends(cfg, log.NewNopLogger())
			t.Cleanup(func() { b.Close(ctx) })

			store, err := b.ClientStore(ctx)
			require.NoError(t, err)

			c, err := store.GetClient(ctx, "web")
			require.NoError(t, err)
			assert.True(t, c.SecretRequired)
			assert.Equal(t, []string{"read"}, c.Scopes)

			if registry == config.BackendSQL {
				// a restart seeds the same clients again
				_, err := b.ClientStore(ctx)
				require.NoError(t, err)
			}
		})
	}
}

func TestBackends_ClientStoreRejectsPublicClientCredentials(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.Clients = append(cfg.Clients, config.ClientConfig{
		ID:         "batch",
		GrantTypes: []string{domain.GrantTypeClientCredentials},
		Scopes:     []string{"write"},
	})

	b := newBackends(cfg, log.NewNopLogger())
	t.Cleanup(func() { b.Close(ctx) })

	_, err := b.ClientStore(ctx)
	require.ErrorIs(t, err, client.ErrPublicClientCredentials)
}

func TestBackends_UnknownBackend(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.TokenStore = "cassandra"
	cfg.CodeStore = "cassandra"

	b := newBackends(cfg, log.NewNopLogger())

	_, err := b.TokenStore(ctx)
	require.Error(t, err)
	_, err = b.CodeStore(ctx)
	require.Error(t, err)
}

func TestBackends_BoltCodeStore(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig(t)
	cfg.CodeStore = config.BackendBolt

	b := newBackends(cfg, log.NewNopLogger())
	t.Cleanup(func() { b.Close(ctx) })

	codes, err := b.CodeStore(ctx)
	require.NoError(t, err)

	grant := &domain.AuthorizationGrant{
		Code:      "abc",
		Request:   domain.AuthorizationRequest{ClientID: "web"},
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, codes.SaveAuthorizationGrant(ctx, grant))

	got, err := codes.ConsumeAuthorizationGrant(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "web", got.Request.ClientID)
}

func TestTokenCodec(t *testing.T) {
	ctx := context.Background()

	t.Run("opaque", func(t *testing.T) {
		cfg := testConfig(t)

		codec, signer, err := tokenCodec(ctx, cfg, log.NewNopLogger())
		require.NoError(t, err)

		key, err := codec.Key("value")
		require.NoError(t, err)
		assert.Equal(t, "value", key)
		assert.Empty(t, signer.JWKS().Keys)
	})

	t.Run("HS256 keeps the secret private", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.TokenFormat = config.TokenFormatJWT
		cfg.JWTSigningAlg = "HS256"
		cfg.JWTSecretKey = "shared-secret"

		_, signer, err := tokenCodec(ctx, cfg, log.NewNopLogger())
		require.NoError(t, err)
		assert.Empty(t, signer.JWKS().Keys)
	})

	t.Run("RS256 with a generated key", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.TokenFormat = config.TokenFormatJWT
		cfg.JWTSigningAlg = "RS256"

		_, signer, err := tokenCodec(ctx, cfg, log.NewNopLogger())
		require.NoError(t, err)
		require.Len(t, signer.JWKS().Keys, 1)
		assert.Len(t, signer.JWKS().Keys[0].Kid, 16)
	})

	t.Run("missing key file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.TokenFormat = config.TokenFormatJWT
		cfg.JWTSigningAlg = "RS256"
		cfg.JWTPrivateKeyFile = filepath.Join(t.TempDir(), "missing.pem")

		_, _, err := tokenCodec(ctx, cfg, log.NewNopLogger())
		require.Error(t, err)
	})
}
