//nolint:varnamelen
package echo

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.pilab.hu/authz/api"
	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/internal/audit"
	"go.pilab.hu/authz/log"
	"go.pilab.hu/authz/services"
)

// Config holds the dependencies of the OAuth2 API.
type Config struct {
	Engine         *services.TokenGrantEngine
	Clients        ClientAuthenticator
	Authorizations *services.AuthorizationService
	Introspection  *services.IntrospectionService

	// Signer publishes the token_key set; nil serves an empty set.
	Signer *services.TokenSigner

	// Sessions resolves the user of /oauth/authorize.
	Sessions SessionProvider

	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	// Token endpoint rate limit per client address, disabled when zero.
	RateLimitRPS   float64
	RateLimitBurst int

	// Audit receives token and consent decisions; nil disables the trail.
	Audit *audit.Logger

	Logger log.Logger
}

// OAuth2API struct to hold dependencies.
type OAuth2API struct {
	engine         *services.TokenGrantEngine
	clients        ClientAuthenticator
	authorizations *services.AuthorizationService
	introspection  *services.IntrospectionService
	signer         *services.TokenSigner
	sessions       SessionProvider
	gatherer       prometheus.Gatherer
	limiter        *rateLimiter
	audit          *audit.Logger
	logger         log.Logger
	now            func() time.Time
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(cfg Config) *OAuth2API {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	oa := &OAuth2API{
		engine:         cfg.Engine,
		clients:        cfg.Clients,
		authorizations: cfg.Authorizations,
		introspection:  cfg.Introspection,
		signer:         cfg.Signer,
		sessions:       cfg.Sessions,
		gatherer:       cfg.Gatherer,
		audit:          cfg.Audit,
		logger:         cfg.Logger,
		now:            time.Now,
	}
	if cfg.RateLimitRPS > 0 {
		oa.limiter = newRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	return oa
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	limited := []echo.MiddlewareFunc{oa.rateLimit}

	e.POST("/oauth/token", oa.TokenHandler, append(limited, oa.clientAuth)...)
	e.GET("/oauth/authorize", oa.AuthorizeHandler, oa.requireSession)
	e.POST("/oauth/authorize", oa.ApprovalHandler, oa.requireSession)
	e.POST("/oauth/check_token", oa.CheckTokenHandler, append(limited, oa.clientAuth)...)
	e.POST("/oauth/revoke", oa.RevokeHandler, append(limited, oa.clientAuth)...)
	e.GET("/oauth/token_key", oa.TokenKeyHandler)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(oa.gatherer, promhttp.HandlerOpts{})))
}

// Close releases the background resources of the API.
func (oa *OAuth2API) Close() {
	if oa.limiter != nil {
		oa.limiter.stop()
	}
}

// TokenHandler handles OAuth2 token requests for an already authenticated
// client and hands them to the grant engine.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	cli := clientFrom(c)
	ctx := c.Request().Context()

	req := &domain.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Scopes:       services.ParseScope(c.FormValue("scope")),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
		Username:     c.FormValue("username"),
		Password:     c.FormValue("password"),
	}

	event := audit.Event{
		Action:    audit.ActionTokenIssue,
		ClientID:  cli.ID,
		User:      req.Username,
		GrantType: req.GrantType,
	}

	tok, err := oa.engine.Grant(ctx, cli, req)
	if err != nil {
		event.Error = serrors.From(err).Code
		oa.audit.Record(ctx, event)
		return oa.writeError(c, err)
	}

	event.Success = true
	event.Scopes = tok.Scopes
	oa.audit.Record(ctx, event)

	oa.logger.Info(ctx, "token issued", log.Fields{
		"client_id":  cli.ID,
		"grant_type": req.GrantType,
		"refresh":    tok.RefreshToken != "",
	})

	resp := api.TokenResponse{
		AccessToken:  tok.Value,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn(oa.now()),
		RefreshToken: tok.RefreshToken,
		Scope:        services.FormatScope(tok.Scopes),
	}

	return oa.writeJSON(c, http.StatusOK, resp, tok.Additional)
}

// AuthorizeHandler starts an authorization request for the current user. The
// request is approved right away for auto-approving clients; otherwise the
// consent prompt is returned.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	ctx := c.Request().Context()

	principal, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return oa.sessionError(c, ErrNoSession)
	}

	req, err := oa.authorizations.Begin(ctx, services.AuthorizeParams{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		ResponseType:        c.QueryParam("response_type"),
		Scopes:              services.ParseScope(c.QueryParam("scope")),
		State:               c.QueryParam("state"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
	})
	if err != nil {
		return oa.authorizeError(c, err)
	}

	if _, err := oa.authorizations.Authenticate(ctx, req.ID, principal); err != nil {
		return oa.authorizeError(c, err)
	}

	res, approved, err := oa.authorizations.AutoApprove(ctx, req.ID)
	if err != nil {
		return oa.authorizeError(c, err)
	}
	if approved {
		return c.Redirect(http.StatusFound, res.Location)
	}

	return c.JSON(http.StatusOK, api.ConsentPrompt{
		RequestID:   req.ID,
		ClientID:    req.ClientID,
		Scopes:      req.Scopes,
		RedirectURI: req.RedirectURI,
		State:       req.State,
	})
}

// ApprovalHandler receives the user's consent decision for a pending
// authorization request.
func (oa *OAuth2API) ApprovalHandler(c echo.Context) error {
	ctx := c.Request().Context()

	principal, ok := domain.PrincipalFromContext(ctx)
	if !ok {
		return oa.sessionError(c, ErrNoSession)
	}

	id := c.FormValue("request_id")
	req, err := oa.authorizations.Get(ctx, id)
	if err != nil {
		return oa.authorizeError(c, err)
	}
	if req.Principal == nil || req.Principal.Subject != principal.Subject {
		oa.logger.Warn(ctx, "consent submitted by another user", log.Fields{"client_id": req.ClientID})
		return oa.writeError(c, serrors.NewAccessDenied("Authorization request belongs to another user"))
	}

	event := audit.Event{
		Action:   audit.ActionConsent,
		ClientID: req.ClientID,
		User:     principal.Subject,
	}

	var res *services.AuthorizationResult
	if c.FormValue("user_oauth_approval") == "true" {
		approved := req.Scopes
		if scope := c.FormValue("scope"); scope != "" {
			approved = services.ParseScope(scope)
		}
		event.Scopes = approved
		res, err = oa.authorizations.Approve(ctx, id, approved)
	} else {
		res, err = oa.authorizations.Deny(ctx, id)
	}
	if err != nil {
		return oa.authorizeError(c, err)
	}

	event.Success = res.Code != "" || res.Token != nil
	if !event.Success {
		event.Error = serrors.AccessDenied
	}
	oa.audit.Record(ctx, event)

	return c.Redirect(http.StatusFound, res.Location)
}

// CheckTokenHandler returns the introspection document of a token.
func (oa *OAuth2API) CheckTokenHandler(c echo.Context) error {
	out, err := oa.introspection.Introspect(c.Request().Context(), c.FormValue("token"))
	if err != nil {
		return oa.writeError(c, err)
	}

	return oa.writeJSON(c, http.StatusOK, out, out.Additional)
}

// RevokeHandler handles token revocation requests according to RFC 7009.
// Unknown tokens are answered with 200 as well.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	cli := clientFrom(c)

	ctx := c.Request().Context()

	err := oa.introspection.Revoke(ctx, cli, c.FormValue("token"), c.FormValue("token_type_hint"))
	oa.audit.Record(ctx, audit.Event{
		Action:   audit.ActionTokenRevoke,
		ClientID: cli.ID,
		Success:  err == nil,
		Error:    errorCode(err),
	})
	if err != nil {
		return oa.writeError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{})
}

// TokenKeyHandler publishes the public token signing keys.
func (oa *OAuth2API) TokenKeyHandler(c echo.Context) error {
	if oa.signer == nil {
		return c.JSON(http.StatusOK, api.JSONWebKeySet{Keys: []api.JSONWebKey{}})
	}
	return c.JSON(http.StatusOK, oa.signer.JWKS())
}

// sessionError challenges the user agent when nobody is logged in.
// requireSession resolves the current user and stores it in the request
// context for the authorize endpoints.
func (oa *OAuth2API) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		principal, err := oa.sessions.CurrentPrincipal(c)
		if err != nil {
			return oa.sessionError(c, err)
		}

		c.SetRequest(c.Request().WithContext(domain.WithPrincipal(c.Request().Context(), principal)))
		return next(c)
	}
}

func (oa *OAuth2API) sessionError(c echo.Context, err error) error {
	if errors.Is(err, ErrNoSession) {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="`+sessionRealm+`"`)
		return c.JSON(http.StatusUnauthorized, serrors.NewAccessDenied("Full authentication is required to access this resource"))
	}
	return oa.writeError(c, err)
}

// authorizeError redirects errors that may be reported to the client and
// renders the rest.
func (oa *OAuth2API) authorizeError(c echo.Context, err error) error {
	var rerr *services.RedirectError
	if errors.As(err, &rerr) {
		return c.Redirect(http.StatusFound, rerr.Location())
	}
	return oa.writeError(c, err)
}

// writeJSON renders v with the entries of additional merged into the top
// level object. Keys of v win.
func (oa *OAuth2API) writeJSON(c echo.Context, status int, v any, additional map[string]any) error {
	setNoStore(c)

	if len(additional) == 0 {
		return c.JSON(status, v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return oa.writeError(c, err)
	}

	out := make(map[string]any, len(additional))
	for k, val := range additional {
		out[k] = val
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return oa.writeError(c, err)
	}
	for k, val := range fields {
		out[k] = val
	}

	return c.JSON(status, out)
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return serrors.From(err).Code
}

func setNoStore(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderCacheControl, "no-store")
	h.Set("Pragma", "no-cache")
}
