package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by the storage selectors.
const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
	BackendBolt   = "bolt"
)

// Token formats.
const (
	TokenFormatOpaque = "opaque"
	TokenFormatJWT    = "jwt"
)

// UserConfig is a statically configured resource owner.
type UserConfig struct {
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"`
	Roles        []string `mapstructure:"roles"`
	Permissions  []string `mapstructure:"permissions"`
}

// ClientConfig seeds the in-memory client registry.
type ClientConfig struct {
	ID              string        `mapstructure:"client_id"`
	SecretHash      string        `mapstructure:"secret_hash"`
	GrantTypes      []string      `mapstructure:"grant_types"`
	Scopes          []string      `mapstructure:"scopes"`
	RedirectURIs    []string      `mapstructure:"redirect_uris"`
	ResourceIDs     []string      `mapstructure:"resource_ids"`
	Authorities     []string      `mapstructure:"authorities"`
	AutoApprove     []string      `mapstructure:"auto_approve"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env for environment variable binding.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	Issuer          string `mapstructure:"ISSUER"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`

	// Storage selection
	ClientRegistry string `mapstructure:"CLIENT_REGISTRY"`
	TokenStore     string `mapstructure:"TOKEN_STORE"`
	CodeStore      string `mapstructure:"CODE_STORE"`

	SQLDriver      string `mapstructure:"SQL_DRIVER"`
	SQLDSN         string `mapstructure:"SQL_DSN"`
	MongoURI       string `mapstructure:"MONGO_URI"`
	MongoDBName    string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	BoltPath       string `mapstructure:"BOLT_PATH"`
	StartupRetries uint   `mapstructure:"STARTUP_RETRIES"`

	// Tokens
	TokenFormat          string `mapstructure:"TOKEN_FORMAT"`
	JWTSigningAlg        string `mapstructure:"JWT_SIGNING_ALG"`
	JWTSecretKey         string `mapstructure:"JWT_SECRET_KEY"`
	JWTPrivateKeyFile    string `mapstructure:"JWT_PRIVATE_KEY_FILE"`
	AccessTokenTTLMin    int    `mapstructure:"ACCESS_TOKEN_TTL_MIN"`
	RefreshTokenTTLHour  int    `mapstructure:"REFRESH_TOKEN_TTL_HOUR"`
	AuthCodeTTLMin       int    `mapstructure:"AUTH_CODE_TTL_MIN"`
	AuthorizeRequestTTL  int    `mapstructure:"AUTHORIZE_REQUEST_TTL_MIN"`
	ReuseRefreshTokens   bool   `mapstructure:"REUSE_REFRESH_TOKENS"`
	StoreTimeoutMS       int    `mapstructure:"STORE_TIMEOUT_MS"`
	AuthenticatorTimeout int    `mapstructure:"AUTHENTICATOR_TIMEOUT_MS"`

	// Token endpoint rate limit per client address
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	Users   []UserConfig   `mapstructure:"USERS"`
	Clients []ClientConfig `mapstructure:"CLIENTS"`
}

// AccessTokenTTL is the default access token lifetime.
func (c *ServerConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMin) * time.Minute
}

// RefreshTokenTTL is the default refresh token lifetime.
func (c *ServerConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLHour) * time.Hour
}

// AuthCodeTTL is how long an issued authorization code stays exchangeable.
func (c *ServerConfig) AuthCodeTTL() time.Duration {
	return time.Duration(c.AuthCodeTTLMin) * time.Minute
}

// AuthorizeRequestTTLDuration bounds the wait for login and consent.
func (c *ServerConfig) AuthorizeRequestTTLDuration() time.Duration {
	return time.Duration(c.AuthorizeRequestTTL) * time.Minute
}

// StoreTimeout bounds every token store operation.
func (c *ServerConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMS) * time.Millisecond
}

// AuthenticatorTimeoutDuration bounds user credential validation.
func (c *ServerConfig) AuthenticatorTimeoutDuration() time.Duration {
	return time.Duration(c.AuthenticatorTimeout) * time.Millisecond
}

// Validate rejects unknown backend names and incomplete signing settings.
func (c *ServerConfig) Validate() error {
	var errs []error

	check := func(key, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			errs = append(errs, fmt.Errorf("%s: unsupported value %q (allowed: %s)",
				key, value, strings.Join(allowed, ", ")))
		}
	}

	check("CLIENT_REGISTRY", c.ClientRegistry, BackendMemory, BackendSQL, BackendMongo)
	check("TOKEN_STORE", c.TokenStore, BackendMemory, BackendRedis, BackendMongo)
	check("CODE_STORE", c.CodeStore, BackendMemory, BackendRedis, BackendMongo, BackendBolt)
	check("TOKEN_FORMAT", c.TokenFormat, TokenFormatOpaque, TokenFormatJWT)

	if c.ClientRegistry == BackendSQL {
		check("SQL_DRIVER", c.SQLDriver, "sqlite", "mysql")
	}

	if c.TokenFormat == TokenFormatJWT {
		check("JWT_SIGNING_ALG", c.JWTSigningAlg, "HS256", "RS256")
		if c.JWTSigningAlg == "HS256" && c.JWTSecretKey == "" {
			errs = append(errs, errors.New("JWT_SECRET_KEY is required for HS256"))
		}
	}

	if c.AccessTokenTTLMin <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL_MIN must be positive"))
	}

	return errors.Join(errs...)
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig(paths ...string) (*ServerConfig, error) {
	v := viper.New()

	// Set configuration file name and type
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Set search paths for the configuration file
	if len(paths) == 0 {
		paths = []string{"/etc/authz/", "$HOME/.authz", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	// Attempt to read the config file
	if err := v.ReadInConfig(); err != nil {
		// ConfigFileNotFoundError is acceptable, means we use defaults/env vars.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("ISSUER", "http://localhost:8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "authz")
	v.SetDefault("TRACING_ENABLED", false)

	v.SetDefault("CLIENT_REGISTRY", BackendMemory)
	v.SetDefault("TOKEN_STORE", BackendMemory)
	v.SetDefault("CODE_STORE", BackendMemory)
	v.SetDefault("SQL_DRIVER", "sqlite")
	v.SetDefault("SQL_DSN", "file:authz.db?_pragma=busy_timeout(5000)")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "authz")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "authz:")
	v.SetDefault("BOLT_PATH", "authz.bolt")
	v.SetDefault("STARTUP_RETRIES", 5)

	v.SetDefault("TOKEN_FORMAT", TokenFormatOpaque)
	v.SetDefault("JWT_SIGNING_ALG", "RS256")
	v.SetDefault("JWT_SECRET_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY_FILE", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MIN", 60)    // 1 hour
	v.SetDefault("REFRESH_TOKEN_TTL_HOUR", 720) // 30 days
	v.SetDefault("AUTH_CODE_TTL_MIN", 10)
	v.SetDefault("AUTHORIZE_REQUEST_TTL_MIN", 10)
	v.SetDefault("REUSE_REFRESH_TOKENS", false)
	v.SetDefault("STORE_TIMEOUT_MS", 2000)
	v.SetDefault("AUTHENTICATOR_TIMEOUT_MS", 5000)

	v.SetDefault("RATE_LIMIT_RPS", 10.0)
	v.SetDefault("RATE_LIMIT_BURST", 20)
}
