package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/log"
)

// PasswordGranter validates resource owner credentials through the
// authenticator and issues tokens for the resulting principal.
type PasswordGranter struct {
	tokens        *TokenServices
	clients       ClientRegistry
	authenticator domain.Authenticator
	timeout       time.Duration
	logger        log.Logger
}

// NewPasswordGranter creates a new PasswordGranter instance. A positive
// timeout bounds every credential check.
func NewPasswordGranter(
	tokens *TokenServices,
	clients ClientRegistry,
	authenticator domain.Authenticator,
	timeout time.Duration,
	logger log.Logger,
) *PasswordGranter {
	return &PasswordGranter{
		tokens:        tokens,
		clients:       clients,
		authenticator: authenticator,
		timeout:       timeout,
		logger:        logger,
	}
}

func (g *PasswordGranter) Grant(ctx context.Context, gctx domain.TokenGrantContext, req *domain.TokenRequest) (*OAuth2AccessToken, error) {
	if req.Username == "" {
		return nil, serrors.NewInvalidRequest("Missing username")
	}

	scopes, err := validateScopes(g.clients, gctx.Client, gctx.Scopes)
	if err != nil {
		return nil, err
	}

	principal, err := g.authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	gctx.Scopes = scopes
	gctx.Principal = principal

	return g.tokens.CreateAccessToken(ctx, gctx, gctx.Client.AllowsGrantType(domain.GrantTypeRefreshToken))
}

func (g *PasswordGranter) authenticate(ctx context.Context, username, password string) (*domain.Principal, error) {
	authCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		authCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	principal, err := g.authenticator.Authenticate(authCtx, username, password)
	switch {
	case errors.Is(err, domain.ErrBadCredentials):
		g.logger.Warn(ctx, "bad resource owner credentials", log.Fields{"grant_type": domain.GrantTypePassword})
		return nil, serrors.NewInvalidGrant("Bad credentials")
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout):
		return nil, serrors.NewTimeout(err)
	case err != nil:
		return nil, fmt.Errorf("failed to authenticate resource owner: %w", err)
	case principal == nil:
		return nil, serrors.NewInvalidGrant("Bad credentials")
	}

	return principal, nil
}
