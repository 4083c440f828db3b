package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"go.pilab.hu/authz/domain"
	serrors "go.pilab.hu/authz/errors"
	"go.pilab.hu/authz/internal/crypto"
	"go.pilab.hu/authz/internal/metrics"
	"go.pilab.hu/authz/log"
	"go.pilab.hu/authz/tracing"
)

// AuthorizeParams are the parameters of an inbound /authorize call.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scopes              []string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationResult is the outcome of a finished authorization request.
type AuthorizationResult struct {
	Request  *domain.AuthorizationRequest
	Location string

	// Code is set for the code flow, Token for the implicit flow.
	Code  string
	Token *OAuth2AccessToken
}

// RedirectError is an authorization failure that is reported to the
// client's redirect URI instead of the user agent.
type RedirectError struct {
	Err         *serrors.OAuth2Error
	RedirectURI string
	State       string
	Fragment    bool
}

func (e *RedirectError) Error() string { return e.Err.Error() }

func (e *RedirectError) Unwrap() error { return e.Err }

// Location returns the redirect URI carrying the error parameters.
func (e *RedirectError) Location() string {
	v := url.Values{}
	v.Set("error", e.Err.Code)
	if e.Err.Description != "" {
		v.Set("error_description", e.Err.Description)
	}
	if e.State != "" {
		v.Set("state", e.State)
	}
	return redirectWith(e.RedirectURI, v, e.Fragment)
}

func redirectWith(base string, params url.Values, fragment bool) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}

	if fragment {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + params.Encode()
	}

	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// AuthorizationServiceConfig configures NewAuthorizationService.
type AuthorizationServiceConfig struct {
	Clients    ClientRegistry
	Requests   domain.AuthorizationRequestStore
	Codes      domain.AuthorizationCodeStore
	Engine     *TokenGrantEngine
	CodeTTL    time.Duration
	RequestTTL time.Duration
	Logger     log.Logger
}

// AuthorizationService drives an authorization request from the inbound
// /authorize call to an issued code or token, a refusal or expiry.
type AuthorizationService struct {
	clients    ClientRegistry
	requests   domain.AuthorizationRequestStore
	codes      domain.AuthorizationCodeStore
	engine     *TokenGrantEngine
	codeTTL    time.Duration
	requestTTL time.Duration
	logger     log.Logger
	now        func() time.Time

	// guards the read-check-write of request transitions
	mu sync.Mutex
}

// NewAuthorizationService creates a new AuthorizationService instance
func NewAuthorizationService(cfg AuthorizationServiceConfig) *AuthorizationService {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 10 * time.Minute
	}

	return &AuthorizationService{
		clients:    cfg.Clients,
		requests:   cfg.Requests,
		codes:      cfg.Codes,
		engine:     cfg.Engine,
		codeTTL:    cfg.CodeTTL,
		requestTTL: cfg.RequestTTL,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

func responseGrantType(responseType string) (string, bool) {
	switch responseType {
	case domain.ResponseTypeCode:
		return domain.GrantTypeAuthorizationCode, true
	case domain.ResponseTypeToken:
		return domain.GrantTypeImplicit, true
	default:
		return "", false
	}
}

// Begin validates an inbound authorization request and stores it awaiting
// user authentication. Failures before the redirect URI is trusted are
// returned as plain OAuth2 errors, later ones as *RedirectError.
func (s *AuthorizationService) Begin(ctx context.Context, p AuthorizeParams) (*domain.AuthorizationRequest, error) {
	ctx, span := s.span(ctx, "AuthorizationService.Begin", p.ClientID)
	defer span.End()

	c, err := s.clients.Resolve(ctx, p.ClientID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.NewInvalidClient("No client with requested id: " + p.ClientID)
	}
	if err != nil {
		return nil, err
	}

	redirectURI, err := s.clients.ResolveRedirectURI(c, p.RedirectURI)
	if err != nil {
		return nil, serrors.NewInvalidRequest("A redirect_uri can only be used by implicit or authorization_code grant types.")
	}

	redirectErr := func(oerr *serrors.OAuth2Error) error {
		return &RedirectError{
			Err:         oerr,
			RedirectURI: redirectURI,
			State:       p.State,
			Fragment:    p.ResponseType == domain.ResponseTypeToken,
		}
	}

	grantType, ok := responseGrantType(p.ResponseType)
	if !ok {
		return nil, redirectErr(serrors.NewUnsupportedResponseType(p.ResponseType))
	}

	if !c.AllowsGrantType(grantType) {
		return nil, redirectErr(serrors.NewUnauthorizedClient("Unauthorized grant type: " + grantType))
	}

	scopes, err := validateScopes(s.clients, c, p.Scopes)
	if err != nil {
		var oerr *serrors.OAuth2Error
		if errors.As(err, &oerr) {
			return nil, redirectErr(oerr)
		}
		return nil, err
	}

	method := p.CodeChallengeMethod
	if p.CodeChallenge != "" {
		if method == "" {
			method = PKCEMethodPlain
		}
		if !SupportedPKCEMethod(method) {
			return nil, redirectErr(serrors.NewInvalidRequest("Unsupported code_challenge_method: " + method))
		}
	} else {
		method = ""
	}

	now := s.now()
	req := &domain.AuthorizationRequest{
		ID:                  uuid.NewString(),
		ClientID:            c.ID,
		Scopes:              scopes,
		RedirectURI:         redirectURI,
		RedirectURIProvided: p.RedirectURI != "",
		ResponseType:        p.ResponseType,
		State:               p.State,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: method,
		Status:              domain.StatusAwaitingUserAuthentication,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.requestTTL),
	}

	if err := s.requests.SaveAuthorizationRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save authorization request: %w", err)
	}

	return req, nil
}

// Get returns the request, moving it to Expired once its window passed.
func (s *AuthorizationService) Get(ctx context.Context, id string) (*domain.AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load(ctx, id)
}

func (s *AuthorizationService) load(ctx context.Context, id string) (*domain.AuthorizationRequest, error) {
	req, err := s.requests.GetAuthorizationRequest(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, serrors.NewInvalidRequest("Unknown authorization request")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load authorization request: %w", err)
	}

	if !req.Status.Terminal() && !s.now().Before(req.ExpiresAt) {
		req.Status = domain.StatusExpired
		if err := s.requests.SaveAuthorizationRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to save authorization request: %w", err)
		}
		metrics.AuthorizationsTotal.WithLabelValues(metrics.OutcomeExpired).Inc()
	}

	return req, nil
}

// loadIn loads the request and checks it is in state from. Callers hold mu.
func (s *AuthorizationService) loadIn(ctx context.Context, id string, from domain.AuthorizationStatus) (*domain.AuthorizationRequest, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != from {
		return nil, serrors.NewInvalidRequest(fmt.Sprintf("Authorization request is %s", req.Status))
	}

	return req, nil
}

// transition loads the request, checks it is in state from and stores it
// with the changes of apply.
func (s *AuthorizationService) transition(
	ctx context.Context,
	id string,
	from domain.AuthorizationStatus,
	apply func(req *domain.AuthorizationRequest),
) (*domain.AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.loadIn(ctx, id, from)
	if err != nil {
		return nil, err
	}

	apply(req)

	if err := s.requests.SaveAuthorizationRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to save authorization request: %w", err)
	}

	return req, nil
}

// Authenticate binds the authenticated user to the request and moves it to
// consent.
func (s *AuthorizationService) Authenticate(ctx context.Context, id string, principal *domain.Principal) (*domain.AuthorizationRequest, error) {
	if principal == nil || principal.Subject == "" {
		return nil, serrors.NewInvalidRequest("User must be authenticated")
	}

	return s.transition(ctx, id, domain.StatusAwaitingUserAuthentication, func(req *domain.AuthorizationRequest) {
		req.Principal = principal
		req.Status = domain.StatusAwaitingConsent
	})
}

// AutoApprove approves the request without asking the user when the client
// auto-approves every requested scope. The bool reports whether it did.
func (s *AuthorizationService) AutoApprove(ctx context.Context, id string) (*AuthorizationResult, bool, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	c, err := s.clients.Resolve(ctx, req.ClientID)
	if err != nil {
		return nil, false, err
	}
	if !c.AutoApproves(req.Scopes) {
		return nil, false, nil
	}

	res, err := s.Approve(ctx, id, req.Scopes)
	if err != nil {
		return nil, false, err
	}

	return res, true, nil
}

// Approve issues the grant for the approved subset of the requested scopes.
// Approving no scope at all is a refusal. The request only becomes
// GrantIssued once the code or token exists; a failed issue leaves it
// awaiting consent.
func (s *AuthorizationService) Approve(ctx context.Context, id string, approved []string) (*AuthorizationResult, error) {
	ctx, span := s.span(ctx, "AuthorizationService.Approve", "")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.loadIn(ctx, id, domain.StatusAwaitingConsent)
	if err != nil {
		return nil, err
	}

	var scopes []string
	for _, sc := range req.Scopes {
		if slices.Contains(approved, sc) {
			scopes = append(scopes, sc)
		}
	}

	if len(scopes) == 0 {
		req.Status = domain.StatusDenied
		if err := s.requests.SaveAuthorizationRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("failed to save authorization request: %w", err)
		}
		return s.denied(ctx, req)
	}

	issued := *req
	issued.Scopes = scopes
	issued.Status = domain.StatusGrantIssued

	var res *AuthorizationResult
	if issued.ResponseType == domain.ResponseTypeToken {
		res, err = s.issueToken(ctx, &issued)
	} else {
		res, err = s.issueCode(ctx, &issued)
	}
	if err != nil {
		s.logger.Warn(ctx, "authorization grant not issued", log.Fields{
			"client_id": req.ClientID,
			"error":     err.Error(),
		})
		return nil, err
	}

	if err := s.requests.SaveAuthorizationRequest(ctx, &issued); err != nil {
		return nil, fmt.Errorf("failed to save authorization request: %w", err)
	}

	return res, nil
}

// Deny refuses the request. The client learns about it through an
// access_denied error on its redirect URI.
func (s *AuthorizationService) Deny(ctx context.Context, id string) (*AuthorizationResult, error) {
	ctx, span := s.span(ctx, "AuthorizationService.Deny", "")
	defer span.End()

	req, err := s.transition(ctx, id, domain.StatusAwaitingConsent, func(req *domain.AuthorizationRequest) {
		req.Status = domain.StatusDenied
	})
	if err != nil {
		return nil, err
	}

	return s.denied(ctx, req)
}

func (s *AuthorizationService) denied(ctx context.Context, req *domain.AuthorizationRequest) (*AuthorizationResult, error) {
	metrics.AuthorizationsTotal.WithLabelValues(metrics.OutcomeDenied).Inc()
	s.logger.Info(ctx, "authorization denied", log.Fields{"client_id": req.ClientID})

	rerr := &RedirectError{
		Err:         serrors.NewAccessDenied("User denied access"),
		RedirectURI: req.RedirectURI,
		State:       req.State,
		Fragment:    req.ResponseType == domain.ResponseTypeToken,
	}

	return &AuthorizationResult{Request: req, Location: rerr.Location()}, nil
}

func (s *AuthorizationService) issueCode(ctx context.Context, req *domain.AuthorizationRequest) (*AuthorizationResult, error) {
	if s.codes == nil {
		return nil, serrors.NewServerError("authorization code store is not configured")
	}

	code, err := crypto.RandomToken(32)
	if err != nil {
		return nil, err
	}

	now := s.now()
	grant := &domain.AuthorizationGrant{
		Code:      code,
		Request:   *req,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.codeTTL),
	}
	if err := s.codes.SaveAuthorizationGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("failed to save authorization code: %w", err)
	}

	metrics.AuthorizationsTotal.WithLabelValues(metrics.OutcomeCodeIssued).Inc()

	v := url.Values{}
	v.Set("code", code)
	if req.State != "" {
		v.Set("state", req.State)
	}

	return &AuthorizationResult{
		Request:  req,
		Location: redirectWith(req.RedirectURI, v, false),
		Code:     code,
	}, nil
}

func (s *AuthorizationService) issueToken(ctx context.Context, req *domain.AuthorizationRequest) (*AuthorizationResult, error) {
	c, err := s.clients.Resolve(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	tok, err := s.engine.Grant(ctx, c, &domain.TokenRequest{
		GrantType:     domain.GrantTypeImplicit,
		Scopes:        req.Scopes,
		Authorization: req,
	})
	if err != nil {
		var oerr *serrors.OAuth2Error
		if errors.As(err, &oerr) && oerr.Code != serrors.ServerError {
			return nil, &RedirectError{Err: oerr, RedirectURI: req.RedirectURI, State: req.State, Fragment: true}
		}
		return nil, err
	}

	metrics.AuthorizationsTotal.WithLabelValues(metrics.OutcomeTokenIssued).Inc()

	v := url.Values{}
	v.Set("access_token", tok.Value)
	v.Set("token_type", tok.TokenType)
	if in := tok.ExpiresIn(s.now()); in > 0 {
		v.Set("expires_in", strconv.FormatInt(in, 10))
	}
	v.Set("scope", FormatScope(tok.Scopes))
	if req.State != "" {
		v.Set("state", req.State)
	}

	return &AuthorizationResult{
		Request:  req,
		Location: redirectWith(req.RedirectURI, v, true),
		Token:    tok,
	}, nil
}

func (s *AuthorizationService) span(ctx context.Context, name, clientID string) (context.Context, trace.Span) {
	ctx, span := tracing.Tracer.Start(ctx, name)
	if clientID != "" {
		span.SetAttributes(attribute.String("oauth2.client_id", clientID))
	}
	return ctx, span
}
