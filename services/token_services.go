package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"go.pilab.hu/authz/api"
	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/internal/metrics"
)

// AdditionalAuthorities is the additional information key carrying the
// client authorities of client-only tokens.
const AdditionalAuthorities = "authorities"

// OAuth2AccessToken is a freshly minted access token as returned to the client.
type OAuth2AccessToken struct {
	Value        string
	TokenType    string
	ExpiresAt    time.Time
	Scopes       []string
	RefreshToken string
	Additional   map[string]any
}

// ExpiresIn returns the remaining lifetime in whole seconds, zero for tokens
// without expiry.
func (t *OAuth2AccessToken) ExpiresIn(now time.Time) int64 {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	secs := int64(t.ExpiresAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// TokenServicesConfig configures NewTokenServices.
type TokenServicesConfig struct {
	Store              domain.TokenStore
	Codec              AccessTokenCodec
	Enhancer           TokenEnhancer
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ReuseRefreshTokens bool
}

// TokenServices mints, reads and revokes tokens on top of a token store.
type TokenServices struct {
	store              domain.TokenStore
	codec              AccessTokenCodec
	enhancer           TokenEnhancer
	accessTokenTTL     time.Duration
	refreshTokenTTL    time.Duration
	reuseRefreshTokens bool
	now                func() time.Time
}

// NewTokenServices creates a new TokenServices instance. Opaque tokens are
// issued when no codec is configured.
func NewTokenServices(cfg TokenServicesConfig) *TokenServices {
	codec := cfg.Codec
	if codec == nil {
		codec = OpaqueCodec{}
	}

	return &TokenServices{
		store:              cfg.Store,
		codec:              codec,
		enhancer:           cfg.Enhancer,
		accessTokenTTL:     cfg.AccessTokenTTL,
		refreshTokenTTL:    cfg.RefreshTokenTTL,
		reuseRefreshTokens: cfg.ReuseRefreshTokens,
		now:                time.Now,
	}
}

func (s *TokenServices) accessTTL(c *domain.Client) time.Duration {
	if c.AccessTokenTTL > 0 {
		return c.AccessTokenTTL
	}
	return s.accessTokenTTL
}

func (s *TokenServices) refreshTTL(c *domain.Client) time.Duration {
	if c.RefreshTokenTTL > 0 {
		return c.RefreshTokenTTL
	}
	return s.refreshTokenTTL
}

func (s *TokenServices) newRecord(kind domain.TokenKind, gctx domain.TokenGrantContext, ttl time.Duration, now time.Time) *domain.TokenRecord {
	rec := &domain.TokenRecord{
		Value:     uuid.NewString(),
		Kind:      kind,
		ClientID:  gctx.Client.ID,
		GrantType: gctx.GrantType,
		Scopes:    slices.Clone(gctx.Scopes),
		Principal: gctx.Principal,
		Audience:  slices.Clone(gctx.Client.ResourceIDs),
		IssuedAt:  now,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	return rec
}

func (s *TokenServices) newAccessRecord(gctx domain.TokenGrantContext, now time.Time) *domain.TokenRecord {
	rec := s.newRecord(domain.TokenKindAccess, gctx, s.accessTTL(gctx.Client), now)

	if gctx.Principal == nil && len(gctx.Client.Authorities) > 0 {
		rec.Additional = map[string]any{
			AdditionalAuthorities: slices.Clone(gctx.Client.Authorities),
		}
	}

	return rec
}

// CreateAccessToken mints an access token for gctx, together with a refresh
// token when issueRefresh is set. Either both are persisted or none.
func (s *TokenServices) CreateAccessToken(ctx context.Context, gctx domain.TokenGrantContext, issueRefresh bool) (*OAuth2AccessToken, error) {
	now := s.now()

	access := s.newAccessRecord(gctx, now)

	var refresh *domain.TokenRecord
	if issueRefresh {
		refresh = s.newRecord(domain.TokenKindRefresh, gctx, s.refreshTTL(gctx.Client), now)
	}

	return s.issue(ctx, access, refresh)
}

// RefreshAccessToken exchanges a loaded refresh token for a new access token.
// The presented refresh token is revoked first: of two concurrent exchanges
// only the one that removed it goes on to mint tokens.
func (s *TokenServices) RefreshAccessToken(ctx context.Context, gctx domain.TokenGrantContext, refresh *domain.TokenRecord) (*OAuth2AccessToken, error) {
	if err := s.store.Revoke(ctx, refresh.Value); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidGrant("Invalid refresh token")
		}
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	now := s.now()
	access := s.newAccessRecord(gctx, now)

	var next *domain.TokenRecord
	if s.reuseRefreshTokens {
		cp := *refresh
		cp.LinkedValue = ""
		next = &cp
	} else {
		// the rotated refresh token keeps the scope of the one it replaces
		rgctx := gctx
		rgctx.GrantType = refresh.GrantType
		rgctx.Scopes = refresh.Scopes
		next = s.newRecord(domain.TokenKindRefresh, rgctx, s.refreshTTL(gctx.Client), now)
	}

	return s.issue(ctx, access, next)
}

func (s *TokenServices) issue(ctx context.Context, access, refresh *domain.TokenRecord) (*OAuth2AccessToken, error) {
	if s.enhancer != nil {
		if err := s.enhancer.Enhance(ctx, access); err != nil {
			return nil, fmt.Errorf("failed to enhance token: %w", err)
		}
	}

	value, err := s.codec.Encode(access)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}

	if err := s.store.Save(ctx, access, refresh); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	tok := &OAuth2AccessToken{
		Value:      value,
		TokenType:  api.TokenTypeBearer,
		ExpiresAt:  access.ExpiresAt,
		Scopes:     access.Scopes,
		Additional: access.Additional,
	}
	if refresh != nil {
		tok.RefreshToken = refresh.Value
	}

	metrics.TokensIssuedTotal.WithLabelValues(access.GrantType).Inc()

	return tok, nil
}

// ReadAccessToken returns the stored access token behind a wire value.
// Malformed, unknown, revoked and expired tokens yield domain.ErrNotFound.
func (s *TokenServices) ReadAccessToken(ctx context.Context, value string) (*domain.TokenRecord, error) {
	key, err := s.codec.Key(value)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	rec, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.Kind != domain.TokenKindAccess {
		return nil, domain.ErrNotFound
	}

	return rec, nil
}

// ReadRefreshToken returns the stored refresh token.
func (s *TokenServices) ReadRefreshToken(ctx context.Context, value string) (*domain.TokenRecord, error) {
	rec, err := s.store.Load(ctx, value)
	if err != nil {
		return nil, err
	}
	if rec.Kind != domain.TokenKindRefresh {
		return nil, domain.ErrNotFound
	}

	return rec, nil
}

// ReadToken resolves a wire value of either kind, trying refreshFirst first
// when the caller hinted at a refresh token.
func (s *TokenServices) ReadToken(ctx context.Context, value string, refreshFirst bool) (*domain.TokenRecord, error) {
	readers := []func(context.Context, string) (*domain.TokenRecord, error){
		s.ReadAccessToken, s.ReadRefreshToken,
	}
	if refreshFirst {
		slices.Reverse(readers)
	}

	var err error
	for _, read := range readers {
		var rec *domain.TokenRecord
		rec, err = read(ctx, value)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	return nil, err
}

// Revoke removes a loaded token and its linked partner.
func (s *TokenServices) Revoke(ctx context.Context, rec *domain.TokenRecord) error {
	if err := s.store.Revoke(ctx, rec.Value); err != nil {
		return err
	}

	metrics.TokensRevokedTotal.Inc()

	return nil
}
