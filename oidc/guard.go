// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc/internal/lock"
	"github.com/hashicorp/oidc-credentials/oidc/internal/metrics"
	"golang.org/x/oauth2"
)

// DefaultExpirySkew is how far ahead of its expiry an access token is
// considered expired.
const DefaultExpirySkew = 30 * time.Second

// GuardState is the state of a single EnsureValidToken evaluation.
type GuardState int

const (
	// StateFresh means the stored access token was returned without any
	// provider request.
	StateFresh GuardState = iota
	// StateRefreshing means a refresh request is in flight.
	StateRefreshing
	// StateRefreshed means a new access token was obtained and stored.
	StateRefreshed
	// StateFailed means the access token was expired and could not be
	// refreshed.
	StateFailed
)

func (s GuardState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRefreshing:
		return "refreshing"
	case StateRefreshed:
		return "refreshed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("GuardState(%d)", int(s))
	}
}

// GuardResult is the outcome of EnsureValidToken.
type GuardResult struct {
	State       GuardState
	AccessToken AccessToken
	ExpiresAt   int64
}

// Guard makes sure an owner's access token is usable before each use,
// refreshing it with the stored refresh token when it is expired or about to
// expire. A failed refresh is never retried by the Guard; the next call
// evaluates the record again.
type Guard struct {
	store  CredentialStore
	client *http.Client
	logger hclog.Logger
	now    func() time.Time
	skew   time.Duration

	// locks serializes refresh-and-persist per owner
	locks *lock.Keyed
}

// NewGuard creates a Guard which persists refreshed tokens to the store.
//
// Supported options: WithLogger, WithNow, WithExpirySkew, WithHTTPClient
func NewGuard(store CredentialStore, opt ...Option) (*Guard, error) {
	const op = "NewGuard"
	if store == nil {
		return nil, fmt.Errorf("%s: credential store is nil: %w", op, ErrNilParameter)
	}
	opts := getGuardOpts(opt...)
	if opts.withExpirySkew < 0 {
		return nil, fmt.Errorf("%s: expiry skew is negative: %w", op, ErrInvalidParameter)
	}
	client := opts.withHTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Guard{
		store:  store,
		client: client,
		logger: opts.withLogger,
		now:    opts.withNowFunc,
		skew:   opts.withExpirySkew,
		locks:  &lock.Keyed{},
	}, nil
}

// NeedsRefresh reports whether the record's access token is missing or
// expires at or before now plus the expiry skew. A record without a known
// expiry never needs a refresh while it has an access token.
func (g *Guard) NeedsRefresh(r *CredentialRecord) bool {
	if r == nil || r.AccessToken == "" {
		return true
	}
	if r.ExpiresAt == 0 {
		return false
	}
	return r.ExpiresAt <= g.now().Add(g.skew).Unix()
}

// EnsureValidToken returns a usable access token for the owner. When the
// record's token is fresh it is returned without contacting the provider.
// Otherwise the refresh token is exchanged at the issuer's token endpoint and
// the new access token and expiry are written to the store; every other field
// of the stored record is preserved, including the refresh token unless the
// provider rotated it.
//
// On failure a *RefreshError is returned along with a result in StateFailed
// that carries no access token.
//
// Supported options: WithStateObserver
func (g *Guard) EnsureValidToken(ctx context.Context, ownerID string, r *CredentialRecord, md *IssuerMetadata, opt ...Option) (*GuardResult, error) {
	const op = "Guard.EnsureValidToken"
	opts := getEnsureOpts(opt...)
	failed := func(err error) (*GuardResult, error) {
		opts.observe(StateFailed)
		return &GuardResult{State: StateFailed}, &RefreshError{OwnerID: ownerID, Err: err}
	}
	switch {
	case ownerID == "":
		return failed(fmt.Errorf("%s: owner id is empty: %w", op, ErrInvalidParameter))
	case r == nil:
		return failed(fmt.Errorf("%s: credential record is nil: %w", op, ErrNilParameter))
	}

	if !g.NeedsRefresh(r) {
		return &GuardResult{State: StateFresh, AccessToken: r.AccessToken, ExpiresAt: r.ExpiresAt}, nil
	}

	switch {
	case md == nil:
		return failed(fmt.Errorf("%s: issuer metadata is nil: %w", op, ErrNilParameter))
	case !r.HasClient():
		return failed(fmt.Errorf("%s: client id or secret is missing: %w", op, ErrNoCredentials))
	case r.RefreshToken == "":
		return failed(fmt.Errorf("%s: refresh token is missing: %w", op, ErrNoCredentials))
	}

	unlock := g.locks.Lock(ownerID)
	defer unlock()

	// another event for this owner may have refreshed while we waited
	current := r
	if stored, err := g.store.Get(ctx, ownerID); err == nil && stored != nil {
		if !g.NeedsRefresh(stored) {
			return &GuardResult{State: StateFresh, AccessToken: stored.AccessToken, ExpiresAt: stored.ExpiresAt}, nil
		}
		current = stored
	}

	opts.observe(StateRefreshing)
	g.logger.Debug("refreshing access token", "owner_id", ownerID, "expires_at", current.ExpiresAt)

	cfg := oauth2.Config{
		ClientID:     current.ClientID,
		ClientSecret: string(current.ClientSecret),
		Endpoint:     md.Endpoint(),
	}
	src := cfg.TokenSource(HttpClientContext(ctx, g.client), &oauth2.Token{RefreshToken: string(current.RefreshToken)})
	tk, err := src.Token()
	if err != nil {
		metrics.Refreshes.WithLabelValues(metrics.ResultFailure).Inc()
		// token endpoint errors may echo the request
		cause := redactError(err, string(current.ClientSecret), string(current.RefreshToken))
		g.logger.Error("access token refresh failed", "owner_id", ownerID, "error", cause)
		return failed(fmt.Errorf("%s: unable to refresh token with provider: %s", op, cause))
	}
	if tk.AccessToken == "" {
		metrics.Refreshes.WithLabelValues(metrics.ResultFailure).Inc()
		return failed(fmt.Errorf("%s: provider returned an empty access token: %w", op, ErrInvalidParameter))
	}

	updated := current.Clone()
	updated.AccessToken = AccessToken(tk.AccessToken)
	updated.ExpiresAt = expiresAt(tk)
	if tk.RefreshToken != "" && tk.RefreshToken != string(current.RefreshToken) {
		g.logger.Debug("provider rotated refresh token", "owner_id", ownerID)
		updated.RefreshToken = RefreshToken(tk.RefreshToken)
	}
	if err := g.store.Put(ctx, ownerID, updated); err != nil {
		// the new token is still usable for this event
		g.logger.Warn("unable to persist refreshed access token", "owner_id", ownerID, "error", err)
	}
	metrics.Refreshes.WithLabelValues(metrics.ResultSuccess).Inc()
	opts.observe(StateRefreshed)
	return &GuardResult{State: StateRefreshed, AccessToken: updated.AccessToken, ExpiresAt: updated.ExpiresAt}, nil
}

// expiresAt converts an oauth2 token expiry to unix seconds, zero when the
// provider did not send expires_in.
func expiresAt(tk *oauth2.Token) int64 {
	if tk.Expiry.IsZero() {
		return 0
	}
	return tk.Expiry.Unix()
}

// WithStateObserver provides an optional func called on each state transition
// made by EnsureValidToken after the initial evaluation.
func WithStateObserver(fn func(GuardState)) Option {
	return func(o interface{}) {
		if o, ok := o.(*ensureOptions); ok {
			o.withStateObserver = fn
		}
	}
}

// guardOptions is the set of available options for Guard functions
type guardOptions struct {
	withLogger     hclog.Logger
	withNowFunc    func() time.Time
	withExpirySkew time.Duration
	withHTTPClient *http.Client
}

// guardDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func guardDefaults() guardOptions {
	return guardOptions{
		withLogger:     hclog.NewNullLogger(),
		withNowFunc:    time.Now,
		withExpirySkew: DefaultExpirySkew,
	}
}

// getGuardOpts gets the guard defaults and applies the opt overrides passed
// in
func getGuardOpts(opt ...Option) guardOptions {
	opts := guardDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

type ensureOptions struct {
	withStateObserver func(GuardState)
}

func (o ensureOptions) observe(s GuardState) {
	if o.withStateObserver != nil {
		o.withStateObserver(s)
	}
}

func getEnsureOpts(opt ...Option) ensureOptions {
	var opts ensureOptions
	ApplyOpts(&opts, opt...)
	return opts
}
