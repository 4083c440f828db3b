package api

const (
	TokenTypeAccessToken  = "access_token"
	TokenTypeRefreshToken = "refresh_token"
	TokenTypeBearer       = "bearer"
)

// TokenResponse represents an OAuth 2.0 token response
//
//nolint:tagliatelle
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// TokenIntrospection is the check_token response. Inactive tokens only carry
// Active. Additional token information is merged into the top level object
// by the transport.
//
//nolint:tagliatelle
type TokenIntrospection struct {
	Active      bool     `json:"active"`
	Scope       string   `json:"scope,omitempty"`
	ClientID    string   `json:"client_id,omitempty"`
	Username    string   `json:"username,omitempty"`
	UserName    string   `json:"user_name,omitempty"`
	TokenType   string   `json:"token_type,omitempty"`
	ExpiresAt   int64    `json:"exp,omitempty"`
	IssuedAt    int64    `json:"iat,omitempty"`
	Subject     string   `json:"sub,omitempty"`
	Audience    []string `json:"aud,omitempty"`
	Issuer      string   `json:"iss,omitempty"`
	JTI         string   `json:"jti,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	Additional map[string]any `json:"-"`
}

// ConsentPrompt is rendered when an authorization request waits for the
// user's approval.
//
//nolint:tagliatelle
type ConsentPrompt struct {
	RequestID   string   `json:"request_id"`
	ClientID    string   `json:"client_id"`
	Scopes      []string `json:"scopes"`
	RedirectURI string   `json:"redirect_uri"`
	State       string   `json:"state,omitempty"`
}

// JSONWebKey is a public RSA signing key.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the token_key response.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}
