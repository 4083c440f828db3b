package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"go.pilab.hu/authz/domain"
)

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`

	timeout bool
	cause   error
}

func (e *OAuth2Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap exposes the underlying failure of server errors.
func (e *OAuth2Error) Unwrap() error {
	return e.cause
}

// Standard OAuth2 error codes
const (
	InvalidRequest         = "invalid_request"
	UnauthorizedClient     = "unauthorized_client"
	AccessDenied           = "access_denied"
	UnsupportedGrantType   = "unsupported_grant_type"
	UnsupportedResponse    = "unsupported_response_type"
	InvalidScope           = "invalid_scope"
	InvalidClient          = "invalid_client"
	InvalidGrant           = "invalid_grant"
	ServerError            = "server_error"
	TemporarilyUnavailable = "temporarily_unavailable"
)

// HTTPStatus returns the status code the error kind is surfaced with.
func (e *OAuth2Error) HTTPStatus() int {
	if e.timeout {
		return http.StatusServiceUnavailable
	}
	switch e.Code {
	case InvalidClient:
		return http.StatusUnauthorized
	case AccessDenied:
		return http.StatusForbidden
	case ServerError:
		return http.StatusInternalServerError
	case TemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// Retryable reports whether the caller may retry the same request with backoff.
func (e *OAuth2Error) Retryable() bool {
	return e.timeout || e.Code == TemporarilyUnavailable
}

// IsTimeout reports whether the error is the Timeout kind.
func (e *OAuth2Error) IsTimeout() bool {
	return e.timeout
}

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: description,
	}
}

func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidClient,
		Description: description,
	}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: description,
	}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        ServerError,
		Description: description,
	}
}

// NewTimeout reports a store or collaborator that did not answer in time.
// It travels as server_error on the wire.
func NewTimeout(cause error) *OAuth2Error {
	return &OAuth2Error{
		Code:        ServerError,
		Description: "the request timed out, retry later",
		timeout:     true,
		cause:       cause,
	}
}

// PKCE specific errors
func NewPKCERequired() *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: "PKCE is required for this client",
	}
}

func NewInvalidPKCE(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: fmt.Sprintf("PKCE validation failed: %s", description),
	}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidScope,
		Description: description,
	}
}

func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnauthorizedClient,
		Description: description,
	}
}

func NewUnsupportedGrantType(grantType string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedGrantType,
		Description: fmt.Sprintf("unsupported grant type: %s", grantType),
	}
}

func NewUnsupportedResponseType(responseType string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedResponse,
		Description: fmt.Sprintf("unsupported response type: %s", responseType),
	}
}

func NewAccessDenied(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        AccessDenied,
		Description: description,
	}
}

// From translates any error into the OAuth2 taxonomy. OAuth2 errors pass
// through unchanged, timeouts become the Timeout kind and everything else is
// reported as server_error without leaking the cause.
func From(err error) *OAuth2Error {
	if err == nil {
		return nil
	}

	var oauthErr *OAuth2Error
	if stderrors.As(err, &oauthErr) {
		return oauthErr
	}

	if stderrors.Is(err, domain.ErrTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeout(err)
	}

	return &OAuth2Error{
		Code:        ServerError,
		Description: "internal server error",
		cause:       err,
	}
}

// Is reports whether err is an OAuth2 error with the given code.
func Is(err error, code string) bool {
	var oauthErr *OAuth2Error
	return stderrors.As(err, &oauthErr) && oauthErr.Code == code
}
