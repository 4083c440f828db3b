package domain

import (
	"context"
	"time"
)

// TokenKind distinguishes the two stored token types.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access_token"
	TokenKindRefresh TokenKind = "refresh_token"
)

// TokenRecord is the stored state of an issued access or refresh token.
// Value is the store key: the opaque value itself, or the jti of a
// self-encoded access token.
//
//nolint:tagliatelle
type TokenRecord struct {
	Value       string         `bson:"value"                json:"value"`
	Kind        TokenKind      `bson:"kind"                 json:"kind"`
	ClientID    string         `bson:"client_id"            json:"client_id"`
	GrantType   string         `bson:"grant_type"           json:"grant_type"`
	Scopes      []string       `bson:"scopes"               json:"scopes"`
	Principal   *Principal     `bson:"principal,omitempty"  json:"principal,omitempty"`
	Audience    []string       `bson:"audience,omitempty"   json:"audience,omitempty"`
	Additional  map[string]any `bson:"additional,omitempty" json:"additional,omitempty"`
	IssuedAt    time.Time      `bson:"issued_at"            json:"issued_at"`
	ExpiresAt   time.Time      `bson:"expires_at"           json:"expires_at"`
	LinkedValue string         `bson:"linked,omitempty"     json:"linked,omitempty"`
}

// Subject returns the user the token was issued for, empty for client tokens.
func (t *TokenRecord) Subject() string {
	if t.Principal == nil {
		return ""
	}
	return t.Principal.Subject
}

// Expired reports whether the token is no longer valid at now. A token is
// expired at exactly its expiry instant. A zero ExpiresAt never expires.
func (t *TokenRecord) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// TTL returns the remaining lifetime at now; zero means no expiry.
func (t *TokenRecord) TTL(now time.Time) time.Duration {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return time.Nanosecond
}

// TokenStore persists issued tokens. Implementations must be safe for
// concurrent use and must never return an expired token from a lookup.
type TokenStore interface {
	// Save persists an access token and its optional refresh token as one
	// unit. Both records are linked to each other.
	Save(ctx context.Context, access *TokenRecord, refresh *TokenRecord) error

	// Load returns the record stored under value. Returns ErrNotFound when the
	// token is unknown, revoked or expired.
	Load(ctx context.Context, value string) (*TokenRecord, error)

	// LoadByRefreshToken returns the access token linked to a refresh token.
	LoadByRefreshToken(ctx context.Context, refreshValue string) (*TokenRecord, error)

	// Revoke removes the token and its linked partner. Returns ErrNotFound
	// when value was not stored, which also tells concurrent revokers apart.
	Revoke(ctx context.Context, value string) error
}
