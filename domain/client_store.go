package domain

import (
	"context"
	"slices"
	"time"
)

// Grant type identifiers.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeImplicit          = "implicit"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
)

// ClientStore is the persistence contract behind the client registry.
// Administration of clients happens outside of the authorization server; the
// registry only ever reads through GetClient.
type ClientStore interface {
	// GetClient retrieves a client by ID. Returns ErrNotFound when unknown.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// CreateClient registers a new client. Returns ErrDuplicate when the ID is taken.
	CreateClient(ctx context.Context, client *Client) error
}

// Client represents a registered OAuth2 client application. The value is
// treated as immutable while a request is in flight.
//
//nolint:tagliatelle
type Client struct {
	ID              string         `bson:"_id"                              json:"client_id"`
	SecretHash      string         `bson:"secret_hash,omitempty"            json:"-"`
	SecretRequired  bool           `bson:"secret_required"                  json:"secret_required"`
	GrantTypes      []string       `bson:"grant_types"                      json:"grant_types"`
	Scopes          []string       `bson:"scopes"                           json:"scopes"`
	RedirectURIs    []string       `bson:"redirect_uris"                    json:"redirect_uris,omitempty"`
	ResourceIDs     []string       `bson:"resource_ids,omitempty"           json:"resource_ids,omitempty"`
	Authorities     []string       `bson:"authorities,omitempty"            json:"authorities,omitempty"`
	AutoApprove     []string       `bson:"auto_approve,omitempty"           json:"auto_approve,omitempty"`
	AccessTokenTTL  time.Duration  `bson:"access_token_ttl"                 json:"access_token_ttl"`
	RefreshTokenTTL time.Duration  `bson:"refresh_token_ttl"                json:"refresh_token_ttl"`
	AdditionalInfo  map[string]any `bson:"additional_information,omitempty" json:"additional_information,omitempty"`
	CreatedAt       time.Time      `bson:"created_at"                       json:"created_at"`
}

// AutoApproveAll marks every scope of the client as auto-approved.
const AutoApproveAll = "true"

// AllowsGrantType reports whether the client is authorized for grantType.
func (c *Client) AllowsGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AutoApproves reports whether every scope in scopes is auto-approved.
func (c *Client) AutoApproves(scopes []string) bool {
	if slices.Contains(c.AutoApprove, AutoApproveAll) {
		return true
	}
	if len(c.AutoApprove) == 0 {
		return false
	}
	for _, s := range scopes {
		if !slices.Contains(c.AutoApprove, s) {
			return false
		}
	}
	return true
}
