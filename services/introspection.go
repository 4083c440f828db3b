package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.pilab.hu/authz/api"
	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/log"
)

// IntrospectionService answers check_token and revocation requests of
// authenticated clients.
type IntrospectionService struct {
	tokens *TokenServices
	issuer string
	logger log.Logger
}

// NewIntrospectionService creates a new IntrospectionService instance
func NewIntrospectionService(tokens *TokenServices, issuer string, logger log.Logger) *IntrospectionService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &IntrospectionService{tokens: tokens, issuer: issuer, logger: logger}
}

// Introspect reports the claims of an active access token. Unknown, revoked,
// expired and malformed tokens are reported inactive, store failures are
// returned.
func (s *IntrospectionService) Introspect(ctx context.Context, value string) (*api.TokenIntrospection, error) {
	if value == "" {
		return nil, serrors.NewInvalidRequest("Token parameter is required")
	}

	rec, err := s.tokens.ReadAccessToken(ctx, value)
	if errors.Is(err, domain.ErrNotFound) {
		return &api.TokenIntrospection{Active: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	out := &api.TokenIntrospection{
		Active:    true,
		Scope:     FormatScope(rec.Scopes),
		ClientID:  rec.ClientID,
		TokenType: api.TokenTypeBearer,
		IssuedAt:  rec.IssuedAt.Unix(),
		Audience:  rec.Audience,
		Issuer:    s.issuer,
	}
	if !rec.ExpiresAt.IsZero() {
		out.ExpiresAt = rec.ExpiresAt.Unix()
	}
	if sub := rec.Subject(); sub != "" {
		out.Subject = sub
		out.Username = sub
		out.UserName = sub
	}
	if _, ok := s.tokens.codec.(*JWTCodec); ok {
		out.JTI = rec.Value
	}

	for k, v := range rec.Additional {
		switch k {
		case AdditionalAuthorities:
			out.Authorities = stringList(v)
		case domain.AttributeRoles:
			out.Roles = stringList(v)
		case domain.AttributePermissions:
			out.Permissions = stringList(v)
		default:
			if out.Additional == nil {
				out.Additional = make(map[string]any)
			}
			out.Additional[k] = v
		}
	}

	return out, nil
}

// Revoke revokes a token of the calling client together with its linked
// partner. Unknown tokens are not an error.
func (s *IntrospectionService) Revoke(ctx context.Context, c *domain.Client, value, hint string) error {
	if value == "" {
		return serrors.NewInvalidRequest("Token parameter is required")
	}

	rec, err := s.tokens.ReadToken(ctx, value, hint == api.TokenTypeRefreshToken)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}

	if rec.ClientID != c.ID {
		s.logger.Warn(ctx, "client tried to revoke a foreign token", log.Fields{"client_id": c.ID})
		return serrors.NewUnauthorizedClient("Token was issued to another client")
	}

	if err := s.tokens.Revoke(ctx, rec); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return nil
}

// stringList reads a string slice that may have gone through a JSON or BSON
// round trip.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]string, 0, rv.Len())
	for i := range rv.Len() {
		if s, ok := rv.Index(i).Interface().(string); ok {
			out = append(out, s)
		}
	}
	return out
}
