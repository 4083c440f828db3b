package echo

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"go.pilab.hu/authz/client"
	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/log"
)

const clientContextKey = "oauth2_client"

// ClientAuthenticator verifies client credentials.
type ClientAuthenticator interface {
	Authenticate(ctx context.Context, clientID, secret string) (*domain.Client, error)
}

// clientAuth authenticates the client through HTTP Basic or the
// client_id/client_secret form fields.
func (oa *OAuth2API) clientAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		clientID, secret, basic := c.Request().BasicAuth()
		if basic {
			// RFC 6749 2.3.1 form-encodes both parts
			if id, err := url.QueryUnescape(clientID); err == nil {
				clientID = id
			}
			if s, err := url.QueryUnescape(secret); err == nil {
				secret = s
			}
			if formID := c.FormValue("client_id"); formID != "" && formID != clientID {
				return oa.invalidClient(c, basic, "client_id does not match the authenticated client")
			}
		} else {
			clientID = c.FormValue("client_id")
			secret = c.FormValue("client_secret")
		}

		if clientID == "" {
			return oa.invalidClient(c, basic, "Client authentication is required")
		}

		cli, err := oa.clients.Authenticate(ctx, clientID, secret)
		if errors.Is(err, client.ErrClientNotFound) || errors.Is(err, client.ErrUnauthorized) {
			oa.logger.Warn(ctx, "client authentication failed", log.Fields{
				"client_id": clientID,
				"path":      c.Path(),
			})
			return oa.invalidClient(c, basic, "Bad client credentials")
		}
		if err != nil {
			return oa.writeError(c, err)
		}

		c.Set(clientContextKey, cli)

		return next(c)
	}
}

func (oa *OAuth2API) invalidClient(c echo.Context, basic bool, description string) error {
	if basic {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="oauth2/client"`)
	}
	setNoStore(c)
	return c.JSON(http.StatusUnauthorized, serrors.NewInvalidClient(description))
}

func clientFrom(c echo.Context) *domain.Client {
	cli, _ := c.Get(clientContextKey).(*domain.Client)
	return cli
}
