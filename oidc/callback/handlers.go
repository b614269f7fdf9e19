// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc"
	"golang.org/x/text/language"
)

// DefaultBasePath is where the routes are usually mounted.
const DefaultBasePath = "/openid-credentials"

// Handlers serves the endpoints which start an authorization and receive
// its callback.
type Handlers struct {
	manager     *oidc.Manager
	localizer   *Localizer
	logger      hclog.Logger
	cookiePath  string
	checkCookie bool
	successFn   SuccessResponseFunc
	errorFn     ErrorResponseFunc
}

// NewHandlers creates the handlers for the manager.
//
// Supported options: WithLogger, WithLocalizer, WithCookiePath,
// WithCookieCheck, WithSuccessResponse, WithErrorResponse
func NewHandlers(m *oidc.Manager, opt ...oidc.Option) (*Handlers, error) {
	const op = "callback.NewHandlers"
	if m == nil {
		return nil, fmt.Errorf("%s: manager is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getHandlerOpts(opt...)
	h := &Handlers{
		manager:     m,
		localizer:   opts.withLocalizer,
		logger:      opts.withLogger,
		cookiePath:  opts.withCookiePath,
		checkCookie: opts.withCookieCheck,
		successFn:   opts.withSuccessFn,
		errorFn:     opts.withErrorFn,
	}
	if h.localizer == nil {
		l, err := NewLocalizer(language.English)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		h.localizer = l
	}
	if h.successFn == nil {
		h.successFn = h.defaultSuccess
	}
	if h.errorFn == nil {
		h.errorFn = h.defaultError
	}
	return h, nil
}

// Routes returns a router with the auth and callback endpoints registered.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/auth", h.Auth)
	r.Get("/auth/callback", h.Callback)
	return r
}

// Auth starts an authorization for the owner in the "id" parameter. It
// expects the "discovery", "clientId", "clientSecret" and "callback"
// parameters as well, and replies 400 when any is missing. On success the
// csrf cookie is set and the user agent redirected to the provider.
func (h *Handlers) Auth(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	a, err := h.manager.Initiate(req.Context(), oidc.AuthRequest{
		OwnerID:      q.Get("id"),
		DiscoveryURL: q.Get("discovery"),
		ClientID:     q.Get("clientId"),
		ClientSecret: oidc.ClientSecret(q.Get("clientSecret")),
		RedirectURI:  q.Get("callback"),
	})
	switch {
	case errors.Is(err, oidc.ErrInvalidRequest):
		if missing := missingParams(q); len(missing) > 0 {
			h.write(w, req, http.StatusBadRequest, MsgMissingParameters, strings.Join(missing, ", "))
			return
		}
		// every parameter is present, so the owner id itself was rejected
		h.write(w, req, http.StatusBadRequest, MsgInvalidOwnerID, q.Get("id"))
		return
	case errors.Is(err, oidc.ErrDiscovery):
		h.logger.Warn("bad discovery URL", "discovery_url", q.Get("discovery"), "error", err)
		h.write(w, req, http.StatusOK, MsgBadDiscoveryURL)
		return
	case err != nil:
		h.logger.Error("unable to initiate authorization", "owner_id", q.Get("id"), "error", err)
		h.write(w, req, http.StatusInternalServerError, MsgSomethingBroke)
		return
	}
	http.SetCookie(w, a.CSRFCookie(h.cookiePath))
	http.Redirect(w, req, a.URL, http.StatusFound)
}

// Callback completes an authorization. It reads the "state", "code",
// "error" and "error_description" parameters from the body or query.
func (h *Handlers) Callback(w http.ResponseWriter, req *http.Request) {
	// FormValue prioritizes body values, if found
	q := oidc.CallbackQuery{
		State:            req.FormValue("state"),
		Code:             req.FormValue("code"),
		Error:            req.FormValue("error"),
		ErrorDescription: req.FormValue("error_description"),
	}
	if q.Error != "" {
		out := h.manager.HandleCallback(req.Context(), q)
		h.errorFn(out, &AuthenErrorResponse{
			Error:       q.Error,
			Description: q.ErrorDescription,
			Uri:         req.FormValue("error_uri"),
		}, w, req)
		return
	}

	if h.checkCookie && !h.cookieMatches(req, q.State) {
		h.logger.Warn("csrf cookie does not match state")
		h.errorFn(oidc.Outcome{Kind: oidc.OutcomeTokenMismatch, Err: oidc.ErrTokenMismatch}, nil, w, req)
		return
	}

	out := h.manager.HandleCallback(req.Context(), q)
	if !out.Authorized() {
		h.errorFn(out, nil, w, req)
		return
	}
	h.successFn(out, w, req)
}

func (h *Handlers) cookieMatches(req *http.Request, state string) bool {
	c, err := req.Cookie(oidc.CSRFCookieName)
	if err != nil {
		return false
	}
	_, token, err := oidc.DecodeState(state)
	return err == nil && c.Value == token
}

func (h *Handlers) defaultSuccess(out oidc.Outcome, w http.ResponseWriter, req *http.Request) {
	h.write(w, req, http.StatusOK, MsgAuthorized)
}

func (h *Handlers) defaultError(out oidc.Outcome, respErr *AuthenErrorResponse, w http.ResponseWriter, req *http.Request) {
	if respErr != nil {
		h.write(w, req, http.StatusOK, MsgProviderError, respErr.Error, respErr.Description)
		return
	}
	h.write(w, req, StatusCode(out.Kind), MessageFor(out.Kind))
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, status int, key MessageKey, args ...interface{}) {
	tag := h.localizer.Match(req.Header.Get("Accept-Language"))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, h.localizer.Message(tag, key, args...))
}

// missingParams lists the required Auth parameters absent from q.
func missingParams(q map[string][]string) []string {
	var missing []string
	for _, p := range []string{"discovery", "clientId", "clientSecret", "id", "callback"} {
		if len(q[p]) == 0 || q[p][0] == "" {
			missing = append(missing, p)
		}
	}
	return missing
}

// WithLogger provides an optional logger, for: NewHandlers
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithLocalizer provides an optional Localizer, for: NewHandlers
func WithLocalizer(l *Localizer) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withLocalizer = l
		}
	}
}

// WithCookiePath provides an optional path for the csrf cookie, for:
// NewHandlers
func WithCookiePath(path string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withCookiePath = path
		}
	}
}

// WithCookieCheck optionally requires the csrf cookie set by Auth to match
// the token in the callback state, for: NewHandlers
func WithCookieCheck(enabled bool) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withCookieCheck = enabled
		}
	}
}

// WithSuccessResponse provides an optional func which replaces the default
// "authorized" response, for: NewHandlers
func WithSuccessResponse(fn SuccessResponseFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withSuccessFn = fn
		}
	}
}

// WithErrorResponse provides an optional func which replaces the default
// error responses, for: NewHandlers
func WithErrorResponse(fn ErrorResponseFunc) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*handlerOptions); ok {
			o.withErrorFn = fn
		}
	}
}

// handlerOptions is the set of available options for Handlers functions
type handlerOptions struct {
	withLogger      hclog.Logger
	withLocalizer   *Localizer
	withCookiePath  string
	withCookieCheck bool
	withSuccessFn   SuccessResponseFunc
	withErrorFn     ErrorResponseFunc
}

// handlerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func handlerDefaults() handlerOptions {
	return handlerOptions{
		withLogger:     hclog.NewNullLogger(),
		withCookiePath: DefaultBasePath,
	}
}

// getHandlerOpts gets the handler defaults and applies the opt overrides
// passed in
func getHandlerOpts(opt ...oidc.Option) handlerOptions {
	opts := handlerDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}
