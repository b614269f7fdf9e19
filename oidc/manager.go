// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

const (
	// ScopeEmail requests the email claim.
	ScopeEmail = "email"

	// DefaultPendingTTL is how long an initiated authorization waits for its
	// callback.
	DefaultPendingTTL = 10 * time.Minute
)

// DefaultScopes are requested by every authorization unless overridden with
// WithScopes.
var DefaultScopes = []string{oidc.ScopeOpenID, ScopeEmail, oidc.ScopeOfflineAccess}

// Manager manages authorization code flow credentials on behalf of owners:
// it initiates authorizations, handles their callbacks and hands out valid
// access tokens, persisting everything in a CredentialStore.
type Manager struct {
	store      CredentialStore
	discoverer *Discoverer
	guard      *Guard
	logger     hclog.Logger
	now        func() time.Time
	pendingTTL time.Duration
	scopes     []string

	mu             sync.Mutex
	ownsDiscoverer bool
}

// NewManager creates a Manager backed by the store.
//
// Supported options: WithLogger, WithNow, WithExpirySkew, WithHTTPClient,
// WithProviderCA, WithDiscoveryTTL, WithDiscoverer, WithPendingTTL,
// WithScopes
//
// See Manager.Done() which must be called to release resources.
func NewManager(store CredentialStore, opt ...Option) (*Manager, error) {
	const op = "NewManager"
	if store == nil {
		return nil, fmt.Errorf("%s: credential store is nil: %w", op, ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	if opts.withPendingTTL <= 0 {
		return nil, fmt.Errorf("%s: pending ttl must be greater than zero: %w", op, ErrInvalidParameter)
	}
	if len(opts.withScopes) == 0 {
		return nil, fmt.Errorf("%s: scopes are empty: %w", op, ErrInvalidParameter)
	}

	m := &Manager{
		store:      store,
		discoverer: opts.withDiscoverer,
		logger:     opts.withLogger,
		now:        opts.withNowFunc,
		pendingTTL: opts.withPendingTTL,
		scopes:     opts.withScopes,
	}
	if m.discoverer == nil {
		d, err := NewDiscoverer(
			WithLogger(opts.withLogger.Named("discovery")),
			WithHTTPClient(opts.withHTTPClient),
			WithProviderCA(opts.withProviderCA),
			WithDiscoveryTTL(opts.withDiscoveryTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create discoverer: %w", op, err)
		}
		m.discoverer = d
		m.ownsDiscoverer = true
	}

	g, err := NewGuard(store,
		WithLogger(opts.withLogger.Named("guard")),
		WithNow(opts.withNowFunc),
		WithExpirySkew(opts.withExpirySkew),
		WithHTTPClient(m.discoverer.HTTPClient()),
	)
	if err != nil {
		m.Done()
		return nil, fmt.Errorf("%s: unable to create guard: %w", op, err)
	}
	m.guard = g
	return m, nil
}

// Done releases the Manager's background resources and must be called for
// every Manager created.
func (m *Manager) Done() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ownsDiscoverer {
		m.discoverer.Done()
		m.ownsDiscoverer = false
	}
}

// Store returns the Manager's credential store.
func (m *Manager) Store() CredentialStore { return m.store }

// Discoverer returns the Manager's discovery cache.
func (m *Manager) Discoverer() *Discoverer { return m.discoverer }

// Guard returns the Manager's token refresh guard.
func (m *Manager) Guard() *Guard { return m.guard }

// PendingTTL returns how long an initiated authorization stays valid.
func (m *Manager) PendingTTL() time.Duration { return m.pendingTTL }

// Token returns a usable access token for the owner, refreshing it first when
// needed. The issuer is only resolved when a refresh is required.
//
// Supported options: WithStateObserver
func (m *Manager) Token(ctx context.Context, ownerID string, opt ...Option) (*GuardResult, error) {
	const op = "Manager.Token"
	r, err := m.store.Get(ctx, ownerID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("%s: %s: %w", op, ownerID, ErrNoCredentials)
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read credentials: %w", op, err)
	case r == nil || (r.AccessToken == "" && r.RefreshToken == ""):
		return nil, fmt.Errorf("%s: %s has not been authorized: %w", op, ownerID, ErrNoCredentials)
	}

	if !m.guard.NeedsRefresh(r) {
		return &GuardResult{State: StateFresh, AccessToken: r.AccessToken, ExpiresAt: r.ExpiresAt}, nil
	}
	md, err := m.discoverer.Resolve(ctx, r.DiscoveryURL)
	if err != nil {
		getEnsureOpts(opt...).observe(StateFailed)
		return &GuardResult{State: StateFailed}, &RefreshError{OwnerID: ownerID, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return m.guard.EnsureValidToken(ctx, ownerID, r, md, opt...)
}

func (m *Manager) oauth2Config(md *IssuerMetadata, clientID string, clientSecret ClientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: string(clientSecret),
		RedirectURL:  redirectURI,
		Endpoint:     md.Endpoint(),
		Scopes:       m.scopes,
	}
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// managerOptions is the set of available options for Manager functions
type managerOptions struct {
	withLogger       hclog.Logger
	withNowFunc      func() time.Time
	withExpirySkew   time.Duration
	withHTTPClient   *http.Client
	withProviderCA   string
	withDiscoveryTTL time.Duration
	withDiscoverer   *Discoverer
	withPendingTTL   time.Duration
	withScopes       []string
}

// managerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:     hclog.NewNullLogger(),
		withNowFunc:    time.Now,
		withExpirySkew: DefaultExpirySkew,
		withPendingTTL: DefaultPendingTTL,
		withScopes:     DefaultScopes,
	}
}

// getManagerOpts gets the manager defaults and applies the opt overrides
// passed in
func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
