package services

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"go.pilab.hu/authz/api"
)

var ErrInvalidKeyID = errors.New("invalid key id")

// defaultKeyID names the shared secret key registered by AddKeySigner.
const defaultKeyID = "default"

type signingKey struct {
	method jwt.SigningMethod
	sign   any
	verify any
}

// TokenSigner signs and verifies JWTs with a set of named keys.
type TokenSigner struct {
	mu         sync.RWMutex
	keys       map[string]signingKey
	currentKey string
}

// NewTokenSigner creates a new Signer instance
func NewTokenSigner() *TokenSigner {
	return &TokenSigner{
		keys: make(map[string]signingKey),
	}
}

// AddKeySigner registers an HS256 shared secret as the default key.
func (s *TokenSigner) AddKeySigner(secretKey string) {
	s.addKey(defaultKeyID, signingKey{
		method: jwt.SigningMethodHS256,
		sign:   []byte(secretKey),
		verify: []byte(secretKey),
	})
}

// AddRSAKey registers an RS256 key pair under keyID. The latest added key
// signs new tokens; older keys keep verifying.
func (s *TokenSigner) AddRSAKey(keyID string, key *rsa.PrivateKey) {
	s.addKey(keyID, signingKey{
		method: jwt.SigningMethodRS256,
		sign:   key,
		verify: &key.PublicKey,
	})
}

func (s *TokenSigner) addKey(keyID string, key signingKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[keyID] = key
	s.currentKey = keyID
}

// Sign signs claims with keyID, or with the current key when keyID is empty.
func (s *TokenSigner) Sign(claims jwt.Claims, keyID string) (string, error) {
	s.mu.RLock()
	if keyID == "" {
		keyID = s.currentKey
	}
	key, ok := s.keys[keyID]
	s.mu.RUnlock()

	if !ok {
		return "", ErrInvalidKeyID
	}

	token := jwt.NewWithClaims(key.method, claims)
	token.Header["kid"] = keyID

	tokenString, err := token.SignedString(key.sign)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// Parse verifies the signature of tokenString and decodes it into claims.
func (s *TokenSigner) Parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) (*jwt.Token, error) {
	keyFunc := func(t *jwt.Token) (any, error) {
		keyID, _ := t.Header["kid"].(string)

		s.mu.RLock()
		key, ok := s.keys[keyID]
		s.mu.RUnlock()

		if !ok {
			return nil, ErrInvalidKeyID
		}
		if t.Method.Alg() != key.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}

		return key.verify, nil
	}

	opts = append(opts, jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodRS256.Alg(),
	}))

	return jwt.ParseWithClaims(tokenString, claims, keyFunc, opts...)
}

// JWKS returns the public halves of the RSA keys. Shared secrets are never
// published.
func (s *TokenSigner) JWKS() api.JSONWebKeySet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]api.JSONWebKey, 0, len(s.keys))
	for kid, key := range s.keys {
		publicKey, ok := key.verify.(*rsa.PublicKey)
		if !ok {
			continue
		}

		keys = append(keys, api.JSONWebKey{
			Kid: kid,
			Kty: "RSA",
			Alg: key.method.Alg(),
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		})
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Kid < keys[j].Kid })

	return api.JSONWebKeySet{Keys: keys}
}
