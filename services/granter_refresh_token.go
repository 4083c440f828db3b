package services

import (
	"context"
	"errors"
	"fmt"

	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/log"
)

// RefreshTokenGranter exchanges a refresh token for a new access token.
type RefreshTokenGranter struct {
	tokens *TokenServices
	logger log.Logger
}

// NewRefreshTokenGranter creates a new RefreshTokenGranter instance
func NewRefreshTokenGranter(tokens *TokenServices, logger log.Logger) *RefreshTokenGranter {
	return &RefreshTokenGranter{tokens: tokens, logger: logger}
}

// Grant may narrow the scope of the new access token but never widens it.
func (g *RefreshTokenGranter) Grant(ctx context.Context, gctx domain.TokenGrantContext, req *domain.TokenRequest) (*OAuth2AccessToken, error) {
	if req.RefreshToken == "" {
		return nil, serrors.NewInvalidRequest("A refresh token must be supplied.")
	}

	refresh, err := g.tokens.ReadRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.NewInvalidGrant("Invalid refresh token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	if refresh.ClientID != gctx.Client.ID {
		g.logger.Warn(ctx, "refresh token presented by another client",
			log.Fields{"client_id": gctx.Client.ID, "grant_type": gctx.GrantType})
		return nil, serrors.NewInvalidGrant("Wrong client for this refresh token")
	}

	scopes := refresh.Scopes
	if len(gctx.Scopes) > 0 {
		if s, found := firstNotIn(gctx.Scopes, refresh.Scopes); found {
			return nil, serrors.NewInvalidScope(
				fmt.Sprintf("Unable to narrow the scope of the client authentication to %s.", s))
		}
		scopes = gctx.Scopes
	}

	gctx.Scopes = scopes
	gctx.Principal = refresh.Principal

	tok, err := g.tokens.RefreshAccessToken(ctx, gctx, refresh)
	if serrors.Is(err, serrors.InvalidGrant) {
		g.logger.Warn(ctx, "refresh token used concurrently",
			log.Fields{"client_id": gctx.Client.ID, "grant_type": gctx.GrantType})
	}

	return tok, err
}
