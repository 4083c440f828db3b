package echo

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"go.pilab.hu/authz/domain"
	"go.pilab.hu/authz/log"
)

const sessionRealm = "authz"

// ErrNoSession is returned when the request carries no authenticated user.
var ErrNoSession = errors.New("no authenticated user")

// SessionProvider resolves the user behind an /oauth/authorize request.
type SessionProvider interface {
	CurrentPrincipal(c echo.Context) (*domain.Principal, error)
}

// BasicSessionProvider authenticates the user from HTTP Basic credentials on
// every request.
type BasicSessionProvider struct {
	authenticator domain.Authenticator
	timeout       time.Duration
	logger        log.Logger
}

// NewBasicSessionProvider creates a new BasicSessionProvider instance
func NewBasicSessionProvider(authenticator domain.Authenticator, timeout time.Duration, logger log.Logger) *BasicSessionProvider {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BasicSessionProvider{authenticator: authenticator, timeout: timeout, logger: logger}
}

func (p *BasicSessionProvider) CurrentPrincipal(c echo.Context) (*domain.Principal, error) {
	username, password, ok := c.Request().BasicAuth()
	if !ok || username == "" || p.authenticator == nil {
		return nil, ErrNoSession
	}

	ctx := c.Request().Context()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	principal, err := p.authenticator.Authenticate(ctx, username, password)
	if errors.Is(err, domain.ErrBadCredentials) {
		p.logger.Warn(c.Request().Context(), "bad user credentials on authorize")
		return nil, ErrNoSession
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, domain.ErrTimeout
	}
	if err != nil {
		return nil, err
	}

	return principal, nil
}
