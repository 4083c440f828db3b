package domain

import (
	"context"
	"slices"
)

// Names of the user attributes copied onto issued tokens.
const (
	AttributeRoles       = "roles"
	AttributePermissions = "permissions"
)

// Principal is an authenticated resource owner.
type Principal struct {
	Subject     string         `bson:"subject"               json:"subject"`
	Roles       []string       `bson:"roles,omitempty"       json:"roles,omitempty"`
	Permissions []string       `bson:"permissions,omitempty" json:"permissions,omitempty"`
	Attributes  map[string]any `bson:"attributes,omitempty"  json:"attributes,omitempty"`
}

// HasRole reports whether the principal carries role.
func (p *Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Authenticator validates resource owner credentials. It is the external user
// authentication collaborator of the password grant and the login step of
// the authorization endpoint.
type Authenticator interface {
	// Authenticate returns the principal for valid credentials and
	// ErrBadCredentials otherwise.
	Authenticate(ctx context.Context, username, password string) (*Principal, error)
}
