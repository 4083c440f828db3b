package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/authz/bboltdb"
	"go.pilab.hu/authz/cache"
	"go.pilab.hu/authz/cache/redis"
	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/config"
	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/auth"
	"go.pilab.hu/authz/internal/crypto"
	"go.pilab.hu/authz/log"
	"go.pilab.hu/authz/mongodb"
	"go.pilab.hu/authz/services"
	"go.pilab.hu/authz/sqlstore"
)

// codeSweepInterval is how often in-process code stores drop expired codes.
const codeSweepInterval = time.Minute

// backends owns the connections shared by the configured stores. Each
// connection is opened on first use.
type backends struct {
	cfg    *config.ServerConfig
	logger log.Logger

	redis *goredis.Client
	mongo *mongo.Database
	sql   *sqlstore.Store

	closers []func(context.Context) error
}

func newBackends(cfg *config.ServerConfig, logger log.Logger) *backends {
	return &backends{cfg: cfg, logger: logger}
}

// retry runs connect with exponential backoff for at most STARTUP_RETRIES
// additional attempts.
func retry[T any](ctx context.Context, b *backends, name string, connect func() (T, error)) (T, error) {
	return backoff.Retry(ctx, connect,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(b.cfg.StartupRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			b.logger.Warn(ctx, "Backend not reachable yet, retrying", log.Fields{
				"backend":  name,
				"retry_in": next.String(),
				"error":    err.Error(),
			})
		}),
	)
}

func (b *backends) redisClient(ctx context.Context) (*goredis.Client, error) {
	if b.redis != nil {
		return b.redis, nil
	}

	rdb, err := retry(ctx, b, "redis", func() (*goredis.Client, error) {
		return redis.NewClient(ctx, redis.Config{
			Addr:     b.cfg.RedisAddr,
			Password: b.cfg.RedisPassword,
			DB:       b.cfg.RedisDB,
		})
	})
	if err != nil {
		return nil, err
	}

	b.redis = rdb
	b.closers = append(b.closers, func(context.Context) error { return rdb.Close() })
	b.logger.Info(ctx, "Connected to Redis", log.Fields{"addr": b.cfg.RedisAddr})

	return rdb, nil
}

func (b *backends) mongoDB(ctx context.Context) (*mongo.Database, error) {
	if b.mongo != nil {
		return b.mongo, nil
	}

	db, err := retry(ctx, b, "mongo", func() (*mongo.Database, error) {
		return mongodb.InitMongoDB(ctx, b.cfg.MongoURI, b.cfg.MongoDBName)
	})
	if err != nil {
		return nil, err
	}

	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		return nil, err
	}

	b.mongo = db
	b.closers = append(b.closers, func(ctx context.Context) error {
		mongodb.CloseMongoDB(ctx)
		return nil
	})

	return db, nil
}

func (b *backends) sqlStore(ctx context.Context) (*sqlstore.Store, error) {
	if b.sql != nil {
		return b.sql, nil
	}

	store, err := retry(ctx, b, "sql", func() (*sqlstore.Store, error) {
		return sqlstore.Open(ctx, b.cfg.SQLDriver, b.cfg.SQLDSN)
	})
	if err != nil {
		return nil, err
	}

	b.sql = store
	b.closers = append(b.closers, func(context.Context) error { return store.Close() })
	b.logger.Info(ctx, "Connected to SQL database", log.Fields{"driver": b.cfg.SQLDriver})

	return store, nil
}

// ClientStore returns the configured client registry backend, seeded with
// the CLIENTS of the configuration.
func (b *backends) ClientStore(ctx context.Context) (domain.ClientStore, error) {
	var store domain.ClientStore

	switch b.cfg.ClientRegistry {
	case config.BackendMemory:
		store = client.NewMemoryStore()
	case config.BackendSQL:
		s, err := b.sqlStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.ApplyMigrations(); err != nil {
			return nil, err
		}
		store = s.ClientDetails()
	case config.BackendMongo:
		db, err := b.mongoDB(ctx)
		if err != nil {
			return nil, err
		}
		store = mongodb.NewClientRepository(db)
	default:
		return nil, fmt.Errorf("unsupported client registry %q", b.cfg.ClientRegistry)
	}

	for _, cc := range b.cfg.Clients {
		c := clientFromConfig(cc)
		if err := client.Validate(c); err != nil {
			return nil, fmt.Errorf("seed client %s: %w", cc.ID, err)
		}

		err := store.CreateClient(ctx, c)
		switch {
		case errors.Is(err, domain.ErrDuplicate):
			b.logger.Debug(ctx, "Configured client already registered", log.Fields{"client_id": cc.ID})
		case err != nil:
			return nil, fmt.Errorf("seed client %s: %w", cc.ID, err)
		}
	}

	return store, nil
}

// TokenStore returns the configured token store backend.
func (b *backends) TokenStore(ctx context.Context) (domain.TokenStore, error) {
	switch b.cfg.TokenStore {
	case config.BackendMemory:
		store := cache.NewMemoryTokenStore()
		b.closers = append(b.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case config.BackendRedis:
		rdb, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewTokenStore(rdb, b.cfg.RedisKeyPrefix), nil
	case config.BackendMongo:
		db, err := b.mongoDB(ctx)
		if err != nil {
			return nil, err
		}
		return mongodb.NewTokenRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported token store %q", b.cfg.TokenStore)
	}
}

// CodeStore returns the configured authorization code store backend.
func (b *backends) CodeStore(ctx context.Context) (domain.AuthorizationCodeStore, error) {
	switch b.cfg.CodeStore {
	case config.BackendMemory:
		store := cache.NewMemoryCodeStore(codeSweepInterval)
		b.closers = append(b.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case config.BackendRedis:
		rdb, err := b.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redis.NewCodeStore(rdb, b.cfg.RedisKeyPrefix), nil
	case config.BackendMongo:
		db, err := b.mongoDB(ctx)
		if err != nil {
			return nil, err
		}
		return mongodb.NewCodeRepository(db), nil
	case config.BackendBolt:
		store, err := bboltdb.NewCodeStore(b.cfg.BoltPath, codeSweepInterval)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported code store %q", b.cfg.CodeStore)
	}
}

// Close releases the connections in reverse order of opening.
func (b *backends) Close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			b.logger.Error(ctx, "Failed to close backend", err)
		}
	}
	b.closers = nil
}

func clientFromConfig(cc config.ClientConfig) *domain.Client {
	return &domain.Client{
		ID:              cc.ID,
		SecretHash:      cc.SecretHash,
		SecretRequired:  cc.SecretHash != "",
		GrantTypes:      cc.GrantTypes,
		Scopes:          cc.Scopes,
		RedirectURIs:    cc.RedirectURIs,
		ResourceIDs:     cc.ResourceIDs,
		Authorities:     cc.Authorities,
		AutoApprove:     cc.AutoApprove,
		AccessTokenTTL:  cc.AccessTokenTTL,
		RefreshTokenTTL: cc.RefreshTokenTTL,
		CreatedAt:       time.Now().UTC(),
	}
}

func usersFromConfig(users []config.UserConfig) []auth.User {
	out := make([]auth.User, 0, len(users))
	for _, u := range users {
		out = append(out, auth.User{
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Roles:        u.Roles,
			Permissions:  u.Permissions,
		})
	}
	return out
}

// tokenCodec builds the access token codec and the signer publishing its
// keys. Opaque tokens come with an empty signer.
func tokenCodec(ctx context.Context, cfg *config.ServerConfig, logger log.Logger) (services.AccessTokenCodec, *services.TokenSigner, error) {
	signer := services.NewTokenSigner()

	if cfg.TokenFormat != config.TokenFormatJWT {
		return services.OpaqueCodec{}, signer, nil
	}

	switch cfg.JWTSigningAlg {
	case "HS256":
		signer.AddKeySigner(cfg.JWTSecretKey)
	case "RS256":
		key, err := signingKey(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}

		der := x509.MarshalPKCS1PublicKey(&key.PublicKey)
		signer.AddRSAKey(crypto.HashToken(string(der))[:16], key)
	default:
		return nil, nil, fmt.Errorf("unsupported signing algorithm %q", cfg.JWTSigningAlg)
	}

	return services.NewJWTCodec(signer, cfg.Issuer), signer, nil
}

func signingKey(ctx context.Context, cfg *config.ServerConfig, logger log.Logger) (*rsa.PrivateKey, error) {
	if cfg.JWTPrivateKeyFile == "" {
		logger.Warn(ctx, "JWT_PRIVATE_KEY_FILE not set, generating an ephemeral signing key")
		return crypto.GenerateRSAKey()
	}

	pem, err := os.ReadFile(cfg.JWTPrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	return crypto.ParseRSAPrivateKey(pem)
}
