package services

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"go.pilab.hu/authz/domain"
)

var ErrMalformedToken = errors.New("malformed token")

// AccessTokenCodec converts between stored access token records and the
// value handed to clients.
type AccessTokenCodec interface {
	// Encode returns the wire value of rec.
	Encode(rec *domain.TokenRecord) (string, error)
	// Key returns the store key of a wire value.
	Key(value string) (string, error)
}

// OpaqueCodec hands out the random store key itself.
type OpaqueCodec struct{}

func (OpaqueCodec) Encode(rec *domain.TokenRecord) (string, error) { return rec.Value, nil }

func (OpaqueCodec) Key(value string) (string, error) { return value, nil }

// JWTCodec hands out signed JWTs whose jti is the store key, so a revoked
// token stops validating even though its signature is still good.
type JWTCodec struct {
	signer *TokenSigner
	issuer string
}

// NewJWTCodec creates a new JWTCodec instance
func NewJWTCodec(signer *TokenSigner, issuer string) *JWTCodec {
	return &JWTCodec{signer: signer, issuer: issuer}
}

func (c *JWTCodec) Encode(rec *domain.TokenRecord) (string, error) {
	claims := jwt.MapClaims{
		"iss":       c.issuer,
		"jti":       rec.Value,
		"client_id": rec.ClientID,
		"scope":     rec.Scopes,
		"iat":       jwt.NewNumericDate(rec.IssuedAt).Unix(),
		"nbf":       jwt.NewNumericDate(rec.IssuedAt).Unix(),
	}
	if !rec.ExpiresAt.IsZero() {
		claims["exp"] = jwt.NewNumericDate(rec.ExpiresAt).Unix()
	}
	if sub := rec.Subject(); sub != "" {
		claims["sub"] = sub
		claims["user_name"] = sub
	}
	if len(rec.Audience) > 0 {
		claims["aud"] = jwt.ClaimStrings(rec.Audience)
	}

	for k, v := range rec.Additional {
		if _, reserved := claims[k]; !reserved {
			claims[k] = v
		}
	}

	return c.signer.Sign(claims, "")
}

func (c *JWTCodec) Key(value string) (string, error) {
	claims := jwt.MapClaims{}
	if _, err := c.signer.Parse(value, claims, jwt.WithIssuer(c.issuer)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return "", fmt.Errorf("%w: missing jti", ErrMalformedToken)
	}

	return jti, nil
}
