package domain

// TokenGrantContext is the resolved unit of trust handed from the granting
// engine to a grant strategy before any token is minted.
type TokenGrantContext struct {
	Client    *Client
	GrantType string
	Scopes    []string
	Principal *Principal
}

// TokenRequest carries the grant specific parameters of a token request.
type TokenRequest struct {
	GrantType string
	Scopes    []string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// password
	Username string
	Password string

	// implicit, set by the authorization endpoint
	Authorization *AuthorizationRequest
}
