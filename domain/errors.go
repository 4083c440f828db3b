package domain

import "errors"

var (
	// ErrNotFound is returned by stores and registries for unknown keys.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when creating an entry whose key already exists.
	ErrDuplicate = errors.New("duplicate key")

	// ErrAlreadyConsumed is returned when an authorization code was used before.
	ErrAlreadyConsumed = errors.New("authorization code already consumed")

	// ErrBadCredentials is returned by an Authenticator for wrong credentials.
	ErrBadCredentials = errors.New("bad credentials")

	// ErrTimeout is returned when a store or collaborator did not answer in time.
	ErrTimeout = errors.New("operation timed out")
)
