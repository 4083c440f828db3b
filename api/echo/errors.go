package echo

import (
	"strconv"

	"github.com/labstack/echo/v4"

	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/log"
)

// retryAfterSeconds is advertised on retryable failures.
const retryAfterSeconds = 1

// writeError translates err into the OAuth2 error response. Causes of server
// errors are logged, never rendered.
func (oa *OAuth2API) writeError(c echo.Context, err error) error {
	oerr := serrors.From(err)

	if oerr.Code == serrors.ServerError {
		oa.logger.Error(c.Request().Context(), "request failed", err, log.Fields{
			"path":    c.Path(),
			"timeout": oerr.IsTimeout(),
		})
	}
	if oerr.Retryable() {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	setNoStore(c)

	return c.JSON(oerr.HTTPStatus(), oerr)
}
