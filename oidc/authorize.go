// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/oauth2"
)

// CSRFCookieName is the name of the cookie carrying the csrf token of an
// authorization in flight.
const CSRFCookieName = "csrf"

// AuthRequest is the input for initiating an authorization.
type AuthRequest struct {
	// OwnerID identifies the owner the credentials are stored under. It
	// cannot contain a colon since it is carried in the state parameter.
	OwnerID      string
	DiscoveryURL string
	ClientID     string
	ClientSecret ClientSecret
	RedirectURI  string
}

// Validate returns an ErrInvalidRequest error listing every missing or
// malformed field.
func (r AuthRequest) Validate() error {
	var result *multierror.Error
	for _, f := range []struct {
		name, value string
	}{
		{"owner id", r.OwnerID},
		{"discovery URL", r.DiscoveryURL},
		{"client id", r.ClientID},
		{"client secret", string(r.ClientSecret)},
		{"redirect URI", r.RedirectURI},
	} {
		if f.value == "" {
			result = multierror.Append(result, fmt.Errorf("%s is empty", f.name))
		}
	}
	if strings.Contains(r.OwnerID, stateSeparator) {
		result = multierror.Append(result, fmt.Errorf("owner id cannot contain %q", stateSeparator))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}
	return nil
}

// Authorization is an initiated authorization. The caller redirects the user
// agent to URL and sets the cookie returned by CSRFCookie.
type Authorization struct {
	URL       string
	OwnerID   string
	State     string
	CSRFToken string
	ExpiresAt time.Time
}

// CSRFCookie returns the cookie binding the user agent to this authorization,
// scoped to path.
func (a *Authorization) CSRFCookie(path string) *http.Cookie {
	return &http.Cookie{
		Name:     CSRFCookieName,
		Value:    a.CSRFToken,
		Path:     path,
		Expires:  a.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// Initiate starts an authorization code flow for the owner. It resolves the
// issuer, binds a fresh csrf token to the owner in the state parameter and
// stores the pending authorization before returning the URL the user agent
// must be redirected to.
//
// Errors wrap ErrInvalidRequest for bad input, or are a *DiscoveryError when
// the discovery URL cannot be resolved.
//
// An existing record for the owner keeps its tokens as long as the discovery
// URL and client id are unchanged, so it stays usable until the new
// authorization completes.
func (m *Manager) Initiate(ctx context.Context, req AuthRequest) (*Authorization, error) {
	const op = "Manager.Initiate"
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	md, err := m.discoverer.Resolve(ctx, req.DiscoveryURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	csrfToken, err := NewCSRFToken()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	state := EncodeState(req.OwnerID, csrfToken)
	authURL := m.oauth2Config(md, req.ClientID, req.ClientSecret, req.RedirectURI).
		AuthCodeURL(state, oauth2.AccessTypeOffline)

	now := m.now()
	unlock := m.guard.locks.Lock(req.OwnerID)
	defer unlock()

	r, err := m.store.Get(ctx, req.OwnerID)
	switch {
	case errors.Is(err, ErrNotFound) || (err == nil && r == nil):
		r = &CredentialRecord{}
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read credentials: %w", op, err)
	default:
		r = r.Clone()
	}
	if r.DiscoveryURL != req.DiscoveryURL || r.ClientID != req.ClientID {
		r = &CredentialRecord{}
	}
	r.DiscoveryURL = req.DiscoveryURL
	r.ClientID = req.ClientID
	r.ClientSecret = req.ClientSecret
	r.RedirectURI = req.RedirectURI
	r.CSRFToken = csrfToken
	r.InitiatedAt = now.Unix()
	r.CompletedAt = 0
	if err := m.store.Put(ctx, req.OwnerID, r); err != nil {
		return nil, fmt.Errorf("%s: unable to store pending authorization: %w: %w", op, ErrStoreFailed, err)
	}

	m.logger.Info("authorization initiated", "owner_id", req.OwnerID, "discovery_url", req.DiscoveryURL)
	return &Authorization{
		URL:       authURL,
		OwnerID:   req.OwnerID,
		State:     state,
		CSRFToken: csrfToken,
		ExpiresAt: now.Add(m.pendingTTL),
	}, nil
}
