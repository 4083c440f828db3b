package client

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/auth"
)

var (
	// ErrClientNotFound is returned when the client identifier is unknown.
	ErrClientNotFound = fmt.Errorf("client %w", domain.ErrNotFound)

	// ErrUnauthorized is returned when the presented secret does not match.
	ErrUnauthorized = errors.New("client authentication failed")

	// ErrInvalidRedirectURI is returned when a redirect URI is not registered.
	ErrInvalidRedirectURI = errors.New("invalid redirect URI for client")

	// ErrPublicClientCredentials is returned when a client without a secret
	// is given the client_credentials grant.
	ErrPublicClientCredentials = errors.New("client_credentials requires a confidential client")
)

// dummyHash keeps the verification cost uniform for unknown clients.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoO5IOYCjYqzd0KXHSNcSl3LuFBjX6Vaxi"

// Registry resolves and authenticates clients. It is read-only and safe for
// concurrent use as long as the underlying store is.
type Registry struct {
	store  domain.ClientStore
	hasher auth.PasswordHasher
}

// NewRegistry creates a new Registry instance
func NewRegistry(store domain.ClientStore, hasher auth.PasswordHasher) *Registry {
	return &Registry{
		store:  store,
		hasher: hasher,
	}
}

// Resolve returns the client registered under clientID.
func (r *Registry) Resolve(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}

	c, err := r.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to resolve client: %w", err)
	}

	return c, nil
}

// Authenticate resolves the client and checks the presented secret against
// the stored hash. Public clients authenticate by identifier alone.
func (r *Registry) Authenticate(ctx context.Context, clientID, secret string) (*domain.Client, error) {
	c, err := r.Resolve(ctx, clientID)
	if errors.Is(err, ErrClientNotFound) {
		_ = r.hasher.Verify(dummyHash, secret)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if !c.SecretRequired && (secret == "" || c.SecretHash == "") {
		return c, nil
	}

	if c.SecretHash == "" || secret == "" {
		return nil, ErrUnauthorized
	}

	if err := r.hasher.Verify(c.SecretHash, secret); err != nil {
		return nil, ErrUnauthorized
	}

	return c, nil
}

// RegisterClient hashes the plain secret and stores the client. An empty
// secret registers a public client.
func (r *Registry) RegisterClient(ctx context.Context, c *domain.Client, secret string) error {
	if c.ID == "" {
		return errors.New("client id is required")
	}
	if len(c.GrantTypes) == 0 {
		return errors.New("at least one grant type is required")
	}

	c.SecretRequired = secret != ""
	if err := Validate(c); err != nil {
		return err
	}
	if secret != "" {
		hash, err := r.hasher.Hash(secret)
		if err != nil {
			return fmt.Errorf("failed to hash client secret: %w", err)
		}
		c.SecretHash = hash
	}

	if err := r.store.CreateClient(ctx, c); err != nil {
		return fmt.Errorf("failed to register client %s: %w", c.ID, err)
	}

	return nil
}

// Validate rejects grant combinations a client may not hold. Clients acting
// on their own behalf must authenticate with a secret.
func Validate(c *domain.Client) error {
	if !c.SecretRequired && c.AllowsGrantType(domain.GrantTypeClientCredentials) {
		return fmt.Errorf("client %s: %w", c.ID, ErrPublicClientCredentials)
	}
	return nil
}

// ResolveRedirectURI picks the redirect URI for an authorization request.
// A presented URI must exactly match a registered one; without one the
// client must have exactly one registered URI.
func (r *Registry) ResolveRedirectURI(c *domain.Client, presented string) (string, error) {
	if presented != "" {
		if c.HasRedirectURI(presented) {
			return presented, nil
		}
		return "", ErrInvalidRedirectURI
	}

	if len(c.RedirectURIs) == 1 {
		return c.RedirectURIs[0], nil
	}

	return "", ErrInvalidRedirectURI
}

// ValidateScopes checks that every requested scope is allowed for the client.
// An empty request resolves to all of the client's scopes.
func (r *Registry) ValidateScopes(c *domain.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(c.Scopes), nil
	}

	for _, s := range requested {
		if !slices.Contains(c.Scopes, s) {
			return nil, &ScopeError{Scope: s}
		}
	}

	return requested, nil
}

// ScopeError names the first requested scope the client is not allowed.
type ScopeError struct {
	Scope string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("scope %q is not allowed for this client", e.Scope)
}
