package domain

import (
	"context"
	"time"
)

// AuthorizationStatus is the state of an authorization request.
type AuthorizationStatus string

const (
	StatusAwaitingUserAuthentication AuthorizationStatus = "awaiting_user_authentication"
	StatusAwaitingConsent            AuthorizationStatus = "awaiting_consent"
	StatusGrantIssued                AuthorizationStatus = "grant_issued"
	StatusDenied                     AuthorizationStatus = "denied"
	StatusExpired                    AuthorizationStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s AuthorizationStatus) Terminal() bool {
	switch s {
	case StatusGrantIssued, StatusDenied, StatusExpired:
		return true
	default:
		return false
	}
}

// Response types accepted by the authorization endpoint.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// AuthorizationRequest is created per inbound /authorize call and lives until
// it is exchanged for a grant, refused or expires.
//
//nolint:tagliatelle
type AuthorizationRequest struct {
	ID                  string              `bson:"id"                              json:"id"`
	ClientID            string              `bson:"client_id"                       json:"client_id"`
	Scopes              []string            `bson:"scopes"                          json:"scopes"`
	RedirectURI         string              `bson:"redirect_uri"                    json:"redirect_uri"`
	RedirectURIProvided bool                `bson:"redirect_uri_provided"           json:"redirect_uri_provided"`
	ResponseType        string              `bson:"response_type"                   json:"response_type"`
	State               string              `bson:"state,omitempty"                 json:"state,omitempty"`
	CodeChallenge       string              `bson:"code_challenge,omitempty"        json:"code_challenge,omitempty"`
	CodeChallengeMethod string              `bson:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`
	Principal           *Principal          `bson:"principal,omitempty"             json:"principal,omitempty"`
	Status              AuthorizationStatus `bson:"status"                          json:"status"`
	CreatedAt           time.Time           `bson:"created_at"                      json:"created_at"`
	ExpiresAt           time.Time           `bson:"expires_at"                      json:"expires_at"`
}

// AuthorizationGrant is an issued authorization code together with the
// snapshot of the request it was approved for.
//
//nolint:tagliatelle
type AuthorizationGrant struct {
	Code      string               `bson:"-"          json:"-"`
	Request   AuthorizationRequest `bson:"request"    json:"request"`
	IssuedAt  time.Time            `bson:"issued_at"  json:"issued_at"`
	ExpiresAt time.Time            `bson:"expires_at" json:"expires_at"`
	Used      bool                 `bson:"used"       json:"used"`
}

// Expired reports whether the grant is no longer exchangeable at now.
func (g *AuthorizationGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}

// AuthorizationCodeStore persists issued authorization codes.
type AuthorizationCodeStore interface {
	// SaveAuthorizationGrant stores a freshly issued grant under grant.Code.
	SaveAuthorizationGrant(ctx context.Context, grant *AuthorizationGrant) error

	// ConsumeAuthorizationGrant atomically checks that the code was not used
	// yet and invalidates it. Exactly one caller per code gets the grant back,
	// every other caller gets ErrNotFound or ErrAlreadyConsumed.
	ConsumeAuthorizationGrant(ctx context.Context, code string) (*AuthorizationGrant, error)
}

// AuthorizationRequestStore keeps pending authorization requests between the
// user-facing steps of the authorization endpoint.
type AuthorizationRequestStore interface {
	SaveAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) error
	GetAuthorizationRequest(ctx context.Context, id string) (*AuthorizationRequest, error)
}
