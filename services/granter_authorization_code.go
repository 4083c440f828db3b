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

// AuthorizationCodeGranter exchanges an authorization code for tokens.
type AuthorizationCodeGranter struct {
	tokens *TokenServices
	codes  domain.AuthorizationCodeStore
	logger log.Logger
	now    func() time.Time
}

// NewAuthorizationCodeGranter creates a new AuthorizationCodeGranter instance
func NewAuthorizationCodeGranter(tokens *TokenServices, codes domain.AuthorizationCodeStore, logger log.Logger) *AuthorizationCodeGranter {
	return &AuthorizationCodeGranter{
		tokens: tokens,
		codes:  codes,
		logger: logger,
		now:    time.Now,
	}
}

// Grant consumes the code before any other check, so a failed exchange
// still burns it.
func (g *AuthorizationCodeGranter) Grant(ctx context.Context, gctx domain.TokenGrantContext, req *domain.TokenRequest) (*OAuth2AccessToken, error) {
	if req.Code == "" {
		return nil, serrors.NewInvalidRequest("An authorization code must be supplied.")
	}

	grant, err := g.codes.ConsumeAuthorizationGrant(ctx, req.Code)
	switch {
	case errors.Is(err, domain.ErrAlreadyConsumed):
		g.logger.Warn(ctx, "authorization code replayed", log.Fields{"client_id": gctx.Client.ID})
		return nil, serrors.NewInvalidGrant("Invalid authorization code")
	case errors.Is(err, domain.ErrNotFound):
		return nil, serrors.NewInvalidGrant("Invalid authorization code")
	case err != nil:
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	pending := grant.Request

	if pending.ClientID != gctx.Client.ID {
		g.logger.Warn(ctx, "authorization code presented by another client",
			log.Fields{"client_id": gctx.Client.ID, "grant_type": gctx.GrantType})
		return nil, serrors.NewInvalidGrant("Client ID mismatch")
	}

	// a redirect URI sent to /authorize must be repeated verbatim
	if (req.RedirectURI != "" || pending.RedirectURIProvided) && req.RedirectURI != pending.RedirectURI {
		return nil, serrors.NewInvalidGrant("Redirect URI mismatch.")
	}

	if grant.Expired(g.now()) {
		return nil, serrors.NewInvalidGrant("Authorization code expired")
	}

	if pending.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, serrors.NewInvalidPKCE("code_verifier is required")
		}
		if !ValidatePKCEChallenge(pending.CodeChallengeMethod, pending.CodeChallenge, req.CodeVerifier) {
			return nil, serrors.NewInvalidPKCE("code_verifier does not match the challenge")
		}
	} else if req.CodeVerifier != "" {
		return nil, serrors.NewInvalidPKCE("no code_challenge was sent with the authorization request")
	}

	gctx.Scopes = pending.Scopes
	gctx.Principal = pending.Principal

	return g.tokens.CreateAccessToken(ctx, gctx, gctx.Client.AllowsGrantType(domain.GrantTypeRefreshToken))
}
