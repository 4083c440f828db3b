package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/internal/crypto"
)

func testRecord() *domain.TokenRecord {
	now := time.Now().Truncate(time.Second)
	return &domain.TokenRecord{
		Value:      "0b8f6f55-6bb8-4b0c-9d52-0b4d8e5b8d1e",
		Kind:       domain.TokenKindAccess,
		ClientID:   "c1",
		GrantType:  domain.GrantTypePassword,
		Scopes:     []string{"read", "write"},
		Principal:  &domain.Principal{Subject: "alice"},
		Audience:   []string{"orders-api"},
		Additional: map[string]any{"roles": []string{"ROLE_USER"}, "iss": "spoofed"},
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Hour),
	}
}

func TestJWTCodec_HS256(t *testing.T) {
	signer := NewTokenSigner()
	signer.AddKeySigner("test-secret")
	codec := NewJWTCodec(signer, "https://auth.example")

	rec := testRecord()
	value, err := codec.Encode(rec)
	require.NoError(t, err)
	assert.Len(t, strings.Split(value, "."), 3)

	key, err := codec.Key(value)
	require.NoError(t, err)
	assert.Equal(t, rec.Value, key)

	claims := jwt.MapClaims{}
	_, err = signer.Parse(value, claims)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example", claims["iss"])
	assert.Equal(t, "alice", claims["sub"])
	assert.Equal(t, "alice", claims["user_name"])
	assert.Equal(t, "c1", claims["client_id"])
	assert.Equal(t, []any{"read", "write"}, claims["scope"])
	assert.Equal(t, []any{"ROLE_USER"}, claims["roles"])
	assert.EqualValues(t, rec.ExpiresAt.Unix(), claims["exp"])

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(value, ".")
		parts[2] = strings.Repeat("A", len(parts[2]))

		_, err := codec.Key(strings.Join(parts, "."))
		assert.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other := NewJWTCodec(signer, "https://other.example")
		_, err := other.Key(value)
		assert.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("not a jwt", func(t *testing.T) {
		_, err := codec.Key("opaque-value")
		assert.ErrorIs(t, err, ErrMalformedToken)
	})
}

func TestTokenSigner_RSAKeys(t *testing.T) {
	first, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	second, err := crypto.GenerateRSAKey()
	require.NoError(t, err)

	signer := NewTokenSigner()
	signer.AddKeySigner("shared")
	signer.AddRSAKey("k1", first)

	old, err := signer.Sign(jwt.MapClaims{"sub": "alice"}, "")
	require.NoError(t, err)

	signer.AddRSAKey("k2", second)

	current, err := signer.Sign(jwt.MapClaims{"sub": "alice"}, "")
	require.NoError(t, err)

	for _, value := range []string{old, current} {
		tok, err := signer.Parse(value, jwt.MapClaims{})
		require.NoError(t, err)
		assert.Equal(t, "RS256", tok.Method.Alg())
	}

	tok, err := signer.Parse(current, jwt.MapClaims{})
	require.NoError(t, err)
	assert.Equal(t, "k2", tok.Header["kid"])

	_, err = signer.Sign(jwt.MapClaims{}, "missing")
	assert.ErrorIs(t, err, ErrInvalidKeyID)

	jwks := signer.JWKS()
	require.Len(t, jwks.Keys, 2)
	assert.Equal(t, "k1", jwks.Keys[0].Kid)
	assert.Equal(t, "k2", jwks.Keys[1].Kid)
	for _, k := range jwks.Keys {
		assert.Equal(t, "RSA", k.Kty)
		assert.Equal(t, "sig", k.Use)
		assert.Equal(t, "AQAB", k.E)
	}
}

func TestEngine_JWTTokens(t *testing.T) {
	signer := NewTokenSigner()
	signer.AddKeySigner("test-secret")
	codec := NewJWTCodec(signer, "https://auth.example")

	f := newFixture(t, func(cfg *EngineConfig) { cfg.Codec = codec })
	ctx := context.Background()

	tok := passwordToken(t, f)

	key, err := codec.Key(tok.Value)
	require.NoError(t, err)

	rec, err := f.engine.TokenServices().ReadAccessToken(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, key, rec.Value)

	svc := NewIntrospectionService(f.engine.TokenServices(), "https://auth.example", nil)
	got, err := svc.Introspect(ctx, tok.Value)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.Equal(t, key, got.JTI)

	// a revoked JWT stops validating although its signature is still good
	require.NoError(t, svc.Revoke(ctx, f.client(t, "cli"), tok.Value, ""))
	got, err = svc.Introspect(ctx, tok.Value)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestPKCE(t *testing.T) {
	// RFC 7636 appendix B
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.True(t, ValidatePKCEChallenge(PKCEMethodS256, challenge, verifier))
	assert.False(t, ValidatePKCEChallenge(PKCEMethodS256, challenge, verifier+"x"))
	assert.True(t, ValidatePKCEChallenge(PKCEMethodPlain, verifier, verifier))
	assert.True(t, ValidatePKCEChallenge("", verifier, verifier))
	assert.False(t, ValidatePKCEChallenge("S512", verifier, verifier))
	assert.False(t, ValidatePKCEChallenge(PKCEMethodPlain, "", ""))

	assert.True(t, SupportedPKCEMethod(PKCEMethodS256))
	assert.False(t, SupportedPKCEMethod("S512"))
}

func TestParseScope(t *testing.T) {
	assert.Equal(t, []string{"read", "write", "admin"}, ParseScope("read write,admin read"))
	assert.Nil(t, ParseScope(" , "))
	assert.Equal(t, "read write", FormatScope([]string{"read", "write"}))
}
