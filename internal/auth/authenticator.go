package auth

import (
	"context"
	"fmt"
	"slices"

	"go.pilab.hu/authz/domain"
)

// dummyHash is verified for unknown users so lookups of missing and present
// users cost the same.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoO5IOYCjYqzd0KXHSNcSl3LuFBjX6Vaxi"

// User is a statically configured resource owner.
type User struct {
	Username     string
	PasswordHash string
	Roles        []string
	Permissions  []string
}

// StaticAuthenticator validates resource owner credentials against a fixed
// set of users with bcrypt password hashes.
type StaticAuthenticator struct {
	users  map[string]User
	hasher PasswordHasher
}

// NewStaticAuthenticator creates a new StaticAuthenticator instance
func NewStaticAuthenticator(hasher PasswordHasher, users ...User) (*StaticAuthenticator, error) {
	a := &StaticAuthenticator{
		users:  make(map[string]User, len(users)),
		hasher: hasher,
	}

	for _, u := range users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("user %q: username and password hash are required", u.Username)
		}
		if _, ok := a.users[u.Username]; ok {
			return nil, fmt.Errorf("user %q: %w", u.Username, domain.ErrDuplicate)
		}
		a.users[u.Username] = u
	}

	return a, nil
}

// Authenticate implements domain.Authenticator.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, username, password string) (*domain.Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, ok := a.users[username]
	if !ok {
		_ = a.hasher.Verify(dummyHash, password)
		return nil, domain.ErrBadCredentials
	}

	if err := a.hasher.Verify(u.PasswordHash, password); err != nil {
		return nil, domain.ErrBadCredentials
	}

	return &domain.Principal{
		Subject:     u.Username,
		Roles:       slices.Clone(u.Roles),
		Permissions: slices.Clone(u.Permissions),
	}, nil
}

var _ domain.Authenticator = (*StaticAuthenticator)(nil)
