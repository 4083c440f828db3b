package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, config.BackendMemory, cfg.ClientRegistry)
	assert.Equal(t, config.BackendMemory, cfg.TokenStore)
	assert.Equal(t, config.TokenFormatOpaque, cfg.TokenFormat)
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL())
	assert.Equal(t, 720*time.Hour, cfg.RefreshTokenTTL())
	assert.Equal(t, 10*time.Minute, cfg.AuthCodeTTL())
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout())
	assert.False(t, cfg.ReuseRefreshTokens)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TOKEN_STORE", "redis")
	t.Setenv("REUSE_REFRESH_TOKENS", "true")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "5")

	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, config.BackendRedis, cfg.TokenStore)
	assert.True(t, cfg.ReuseRefreshTokens)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL())
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
LOG_LEVEL: debug
CODE_STORE: bolt
USERS:
  - username: alice
    password_hash: "$2a$04$abc"
    roles: [ROLE_ADMIN]
    permissions: ["user:read"]
CLIENTS:
  - client_id: c1
    grant_types: [authorization_code, refresh_token]
    scopes: [read]
    redirect_uris: ["https://app/cb"]
    access_token_ttl: 15m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := config.LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, config.BackendBolt, cfg.CodeStore)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Username)
	assert.Equal(t, []string{"ROLE_ADMIN"}, cfg.Users[0].Roles)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "c1", cfg.Clients[0].ID)
	assert.Equal(t, 15*time.Minute, cfg.Clients[0].AccessTokenTTL)
	assert.Equal(t, []string{"https://app/cb"}, cfg.Clients[0].RedirectURIs)
}

func TestValidate(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("TOKEN_STORE", "cassandra")
		_, err := config.LoadConfig(t.TempDir())
		assert.ErrorContains(t, err, "TOKEN_STORE")
	})

	t.Run("hs256 without secret", func(t *testing.T) {
		t.Setenv("TOKEN_FORMAT", "jwt")
		t.Setenv("JWT_SIGNING_ALG", "HS256")
		_, err := config.LoadConfig(t.TempDir())
		assert.ErrorContains(t, err, "JWT_SECRET_KEY")
	})
}
