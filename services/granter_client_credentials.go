package services

import (
	"context"
	"errors"
	"fmt"

	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
)

// ClientCredentialsGranter issues tokens on behalf of the client itself.
type ClientCredentialsGranter struct {
	tokens  *TokenServices
	clients ClientRegistry
}

// NewClientCredentialsGranter creates a new ClientCredentialsGranter instance
func NewClientCredentialsGranter(tokens *TokenServices, clients ClientRegistry) *ClientCredentialsGranter {
	return &ClientCredentialsGranter{tokens: tokens, clients: clients}
}

func (g *ClientCredentialsGranter) Grant(ctx context.Context, gctx domain.TokenGrantContext, _ *domain.TokenRequest) (*OAuth2AccessToken, error) {
	// there is no user behind the token, so the client must prove who it is
	if !gctx.Client.SecretRequired {
		return nil, serrors.NewUnauthorizedClient("Public clients may not use the client_credentials grant")
	}

	scopes, err := validateScopes(g.clients, gctx.Client, gctx.Scopes)
	if err != nil {
		return nil, err
	}

	gctx.Scopes = scopes
	gctx.Principal = nil

	return g.tokens.CreateAccessToken(ctx, gctx, false)
}

// validateScopes maps scope violations of the registry to invalid_scope.
func validateScopes(clients ClientRegistry, c *domain.Client, requested []string) ([]string, error) {
	scopes, err := clients.ValidateScopes(c, requested)

	var scopeErr *client.ScopeError
	if errors.As(err, &scopeErr) {
		return nil, serrors.NewInvalidScope(fmt.Sprintf("Invalid scope: %s", scopeErr.Scope))
	}
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, serrors.NewInvalidScope("Empty scope (either the client or the user is not allowed the requested scopes)")
	}

	return scopes, nil
}
