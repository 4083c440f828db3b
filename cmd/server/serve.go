package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	echoapi "go.pilab.hu/authz/api/echo"
	"go.pilab.hu/authz/cache"
	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/audit"
	"go.pilab.hu/authz/internal/auth"
	"go.pilab.hu/authz/internal/metrics"
	"go.pilab.hu/authz/internal/server"
	"go.pilab.hu/authz/log"
	"go.pilab.hu/authz/services"
	"go.pilab.hu/authz/tracing"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authorization server",
	RunE:  runServe,
}

//nolint:funlen
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	appLogger.Info(ctx, "Starting authz server", log.Fields{
		"http_port":       cfg.HTTPPort,
		"issuer":          cfg.Issuer,
		"client_registry": cfg.ClientRegistry,
		"token_store":     cfg.TokenStore,
		"code_store":      cfg.CodeStore,
		"token_format":    cfg.TokenFormat,
	})

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
		if err != nil {
			return fmt.Errorf("init tracer provider: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
			}
		}()
	}

	metrics.InitCustomMetrics(prometheus.DefaultRegisterer)

	stores := newBackends(cfg, appLogger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stores.Close(closeCtx)
	}()

	clientStore, err := stores.ClientStore(ctx)
	if err != nil {
		return fmt.Errorf("open client registry: %w", err)
	}
	tokenStore, err := stores.TokenStore(ctx)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	codeStore, err := stores.CodeStore(ctx)
	if err != nil {
		return fmt.Errorf("open code store: %w", err)
	}

	hasher := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost)
	registry := client.NewRegistry(clientStore, hasher)

	users, err := auth.NewStaticAuthenticator(hasher, usersFromConfig(cfg.Users)...)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	codec, signer, err := tokenCodec(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	engineCfg := services.EngineConfig{
		TokenStore:           tokenStore,
		CodeStore:            codeStore,
		Clients:              registry,
		AuthenticatorTimeout: cfg.AuthenticatorTimeoutDuration(),
		Enhancer:             services.UserAttributeEnhancer{},
		Codec:                codec,
		AccessTokenTTL:       cfg.AccessTokenTTL(),
		RefreshTokenTTL:      cfg.RefreshTokenTTL(),
		ReuseRefreshTokens:   cfg.ReuseRefreshTokens,
		StoreTimeout:         cfg.StoreTimeout(),
		Logger:               appLogger.With(log.Fields{"component": "engine"}),
	}
	var authenticator domain.Authenticator = users
	if len(cfg.Users) > 0 {
		engineCfg.Authenticator = authenticator
	} else {
		appLogger.Warn(ctx, "No USERS configured, the password grant is disabled")
	}

	engine, err := services.NewTokenGrantEngine(engineCfg)
	if err != nil {
		return fmt.Errorf("build grant engine: %w", err)
	}

	requests := cache.NewAuthorizationRequestStore()
	defer func() { _ = requests.Close() }()

	oauthAPI := echoapi.NewOAuth2API(echoapi.Config{
		Engine:  engine,
		Clients: registry,
		Authorizations: services.NewAuthorizationService(services.AuthorizationServiceConfig{
			Clients:    registry,
			Requests:   requests,
			Codes:      codeStore,
			Engine:     engine,
			CodeTTL:    cfg.AuthCodeTTL(),
			RequestTTL: cfg.AuthorizeRequestTTLDuration(),
			Logger:     appLogger.With(log.Fields{"component": "authorization"}),
		}),
		Introspection:  services.NewIntrospectionService(engine.TokenServices(), cfg.Issuer, appLogger),
		Signer:         signer,
		Sessions:       echoapi.NewBasicSessionProvider(authenticator, cfg.AuthenticatorTimeoutDuration(), appLogger),
		Gatherer:       prometheus.DefaultGatherer,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Audit:          audit.NewLogger(os.Stdout),
		Logger:         appLogger.With(log.Fields{"component": "http"}),
	})
	defer oauthAPI.Close()

	httpServer := server.NewHTTPServer(cfg, appLogger, oauthAPI)

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort), log.Fields{
			"grant_types": engine.GrantTypes(),
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		appLogger.Info(context.Background(), "Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	appLogger.Info(shutdownCtx, "Shutting down HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")

	return nil
}
