package services

import (
	"context"

	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
)

// ImplicitGranter issues an access token straight from an approved
// authorization request. It never issues a refresh token.
type ImplicitGranter struct {
	tokens *TokenServices
}

// NewImplicitGranter creates a new ImplicitGranter instance
func NewImplicitGranter(tokens *TokenServices) *ImplicitGranter {
	return &ImplicitGranter{tokens: tokens}
}

func (g *ImplicitGranter) Grant(ctx context.Context, gctx domain.TokenGrantContext, req *domain.TokenRequest) (*OAuth2AccessToken, error) {
	// only the authorization endpoint attaches the approved request
	if req.Authorization == nil {
		return nil, serrors.NewInvalidGrant("Implicit grant type not supported from token endpoint")
	}
	if req.Authorization.Principal == nil {
		return nil, serrors.NewInvalidGrant("Implicit grant requires an authenticated user")
	}

	gctx.Scopes = req.Authorization.Scopes
	gctx.Principal = req.Authorization.Principal

	return g.tokens.CreateAccessToken(ctx, gctx, false)
}
