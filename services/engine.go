package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/internal/metrics"
	"go.pilab.hu/authz/log"
	"go.pilab.hu/authz/tracing"
)

// ErrDuplicateGranter is returned when two strategies claim the same grant type.
var ErrDuplicateGranter = errors.New("grant type already registered")

// TokenGranter is the strategy of one grant type.
type TokenGranter interface {
	Grant(ctx context.Context, gctx domain.TokenGrantContext, req *domain.TokenRequest) (*OAuth2AccessToken, error)
}

// TokenGranterFunc adapts a function to TokenGranter.
type TokenGranterFunc func(ctx context.Context, gctx domain.TokenGrantContext, req *domain.TokenRequest) (*OAuth2AccessToken, error)

func (f TokenGranterFunc) Grant(ctx context.Context, gctx domain.TokenGrantContext, req *domain.TokenRequest) (*OAuth2AccessToken, error) {
	return f(ctx, gctx, req)
}

// ClientRegistry is what the services need from the client registry.
type ClientRegistry interface {
	Resolve(ctx context.Context, clientID string) (*domain.Client, error)
	ResolveRedirectURI(c *domain.Client, presented string) (string, error)
	ValidateScopes(c *domain.Client, requested []string) ([]string, error)
}

// EngineConfig is the explicit configuration of the token granting engine.
type EngineConfig struct {
	TokenStore domain.TokenStore
	CodeStore  domain.AuthorizationCodeStore
	Clients    ClientRegistry

	// Authenticator enables the password grant when set.
	Authenticator        domain.Authenticator
	AuthenticatorTimeout time.Duration

	Enhancer           TokenEnhancer
	Codec              AccessTokenCodec
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ReuseRefreshTokens bool
	StoreTimeout       time.Duration

	Logger log.Logger
}

// TokenGrantEngine routes token requests to the strategy registered for the
// requested grant type.
type TokenGrantEngine struct {
	granters map[string]TokenGranter
	tokens   *TokenServices
	logger   log.Logger
}

// NewTokenGrantEngine builds the engine with the standard strategies. The
// password grant is only registered when an authenticator is configured.
func NewTokenGrantEngine(cfg EngineConfig) (*TokenGrantEngine, error) {
	if cfg.TokenStore == nil {
		return nil, errors.New("token store is required")
	}
	if cfg.Clients == nil {
		return nil, errors.New("client registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	store := cfg.TokenStore
	if cfg.StoreTimeout > 0 {
		store = NewTimeoutTokenStore(store, cfg.StoreTimeout)
	}

	tokens := NewTokenServices(TokenServicesConfig{
		Store:              store,
		Codec:              cfg.Codec,
		Enhancer:           cfg.Enhancer,
		AccessTokenTTL:     cfg.AccessTokenTTL,
		RefreshTokenTTL:    cfg.RefreshTokenTTL,
		ReuseRefreshTokens: cfg.ReuseRefreshTokens,
	})

	e := &TokenGrantEngine{
		granters: make(map[string]TokenGranter),
		tokens:   tokens,
		logger:   cfg.Logger,
	}

	granters := map[string]TokenGranter{
		domain.GrantTypeRefreshToken:      NewRefreshTokenGranter(tokens, cfg.Logger),
		domain.GrantTypeImplicit:          NewImplicitGranter(tokens),
		domain.GrantTypeClientCredentials: NewClientCredentialsGranter(tokens, cfg.Clients),
	}
	if cfg.CodeStore != nil {
		granters[domain.GrantTypeAuthorizationCode] = NewAuthorizationCodeGranter(tokens, cfg.CodeStore, cfg.Logger)
	}
	if cfg.Authenticator != nil {
		granters[domain.GrantTypePassword] = NewPasswordGranter(tokens, cfg.Clients, cfg.Authenticator,
			cfg.AuthenticatorTimeout, cfg.Logger)
	}

	for grantType, g := range granters {
		if err := e.Register(grantType, g); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Register adds a strategy for grantType. Registering a grant type twice is
// a configuration error.
func (e *TokenGrantEngine) Register(grantType string, granter TokenGranter) error {
	if grantType == "" || granter == nil {
		return errors.New("grant type and granter are required")
	}
	if _, ok := e.granters[grantType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGranter, grantType)
	}

	e.granters[grantType] = granter

	return nil
}

// GrantTypes lists the registered grant types in sorted order.
func (e *TokenGrantEngine) GrantTypes() []string {
	types := make([]string, 0, len(e.granters))
	for t := range e.granters {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// TokenServices exposes the token services shared by the strategies.
func (e *TokenGrantEngine) TokenServices() *TokenServices {
	return e.tokens
}

// Grant dispatches req for an already authenticated client. Strategy errors
// are returned unchanged.
func (e *TokenGrantEngine) Grant(ctx context.Context, client *domain.Client, req *domain.TokenRequest) (*OAuth2AccessToken, error) {
	ctx, span := tracing.Tracer.Start(ctx, "TokenGrantEngine.Grant")
	defer span.End()

	span.SetAttributes(
		attribute.String("oauth2.grant_type", req.GrantType),
		attribute.String("oauth2.client_id", client.ID),
	)

	tok, err := e.grant(ctx, client, req)
	if err != nil {
		oerr := serrors.From(err)
		span.SetStatus(codes.Error, oerr.Code)
		span.RecordError(err)
		metrics.GrantFailuresTotal.WithLabelValues(req.GrantType, oerr.Code).Inc()

		fields := log.Fields{"client_id": client.ID, "grant_type": req.GrantType, "error": oerr.Code}
		if oerr.Code == serrors.ServerError {
			e.logger.Error(ctx, "token grant failed", err, fields)
		} else {
			e.logger.Debug(ctx, "token grant refused", fields)
		}

		return nil, err
	}

	return tok, nil
}

func (e *TokenGrantEngine) grant(ctx context.Context, client *domain.Client, req *domain.TokenRequest) (*OAuth2AccessToken, error) {
	if req.GrantType == "" {
		return nil, serrors.NewInvalidRequest("Missing grant type")
	}

	granter, ok := e.granters[req.GrantType]
	if !ok {
		return nil, serrors.NewUnsupportedGrantType(req.GrantType)
	}

	if !client.AllowsGrantType(req.GrantType) {
		return nil, serrors.NewUnauthorizedClient("Unauthorized grant type: " + req.GrantType)
	}

	gctx := domain.TokenGrantContext{
		Client:    client,
		GrantType: req.GrantType,
		Scopes:    req.Scopes,
	}

	return granter.Grant(ctx, gctx, req)
}
