// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/oidc-credentials/oidc/internal/metrics"
)

// displayNameClaims are the id_token claims a display name is derived from.
// prefered_username is a misspelling some providers emit verbatim.
type displayNameClaims struct {
	PreferredUsername string `json:"preferred_username"`
	PreferedUsername  string `json:"prefered_username"`
	Email             string `json:"email"`
}

func (c displayNameClaims) displayName() string {
	switch {
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.PreferedUsername != "":
		return c.PreferedUsername
	default:
		return c.Email
	}
}

// HandleCallback completes an authorization initiated by Initiate. The state
// parameter must carry the csrf token stored for the owner; on a mismatch the
// code is never exchanged. Each initiation can be completed once; a later
// callback with the same state returns OutcomeNoCredentials. On success the id, refresh and access tokens, the
// expiry and a display name are merged into the owner's record.
//
// A provider error in the query returns OutcomeProviderError without reading
// or writing the store.
func (m *Manager) HandleCallback(ctx context.Context, q CallbackQuery) Outcome {
	out := m.handleCallback(ctx, q)
	metrics.CallbackOutcomes.WithLabelValues(out.Kind.String()).Inc()
	switch out.Kind {
	case OutcomeAuthorized:
		m.logger.Info("authorization completed", "owner_id", out.OwnerID)
	case OutcomeProviderError:
		m.logger.Warn("provider returned an error", "error", out.ProviderError, "description", out.ProviderErrorDescription)
	default:
		m.logger.Error("authorization callback failed", "owner_id", out.OwnerID, "outcome", out.Kind.String(), "error", out.Err)
	}
	return out
}

func (m *Manager) handleCallback(ctx context.Context, q CallbackQuery) Outcome {
	const op = "Manager.HandleCallback"
	if q.Error != "" {
		return Outcome{Kind: OutcomeProviderError, ProviderError: q.Error, ProviderErrorDescription: q.ErrorDescription}
	}

	ownerID, csrfToken, err := DecodeState(q.State)
	if err != nil {
		return Outcome{Kind: OutcomeNoCredentials, Err: fmt.Errorf("%s: %w: %w", op, ErrNoCredentials, err)}
	}
	fail := func(kind OutcomeKind, err error) Outcome {
		return Outcome{Kind: kind, OwnerID: ownerID, Err: fmt.Errorf("%s: %w", op, err)}
	}

	r, err := m.store.Get(ctx, ownerID)
	switch {
	case err != nil && !errors.Is(err, ErrNotFound):
		return fail(OutcomeNoCredentials, fmt.Errorf("%w: %w", ErrNoCredentials, err))
	case err != nil || !r.HasClient():
		return fail(OutcomeNoCredentials, fmt.Errorf("no client credentials for %s: %w", ownerID, ErrNoCredentials))
	}
	if !csrfTokensEqual(csrfToken, r.CSRFToken) {
		return fail(OutcomeTokenMismatch, ErrTokenMismatch)
	}
	if r.CompletedAt != 0 {
		return fail(OutcomeNoCredentials, fmt.Errorf("%w: %w", ErrNoCredentials, ErrStateConsumed))
	}
	if r.InitiatedAt != 0 && m.now().After(time.Unix(r.InitiatedAt, 0).Add(m.pendingTTL)) {
		return fail(OutcomeNoCredentials, fmt.Errorf("%w: %w", ErrNoCredentials, ErrExpiredState))
	}

	md, err := m.discoverer.Resolve(ctx, r.DiscoveryURL)
	if err != nil {
		return fail(OutcomeDiscoveryFailed, err)
	}
	if q.Code == "" {
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: authorization code is empty: %w", ErrExchangeFailed, ErrInvalidParameter))
	}

	tk, err := m.oauth2Config(md, r.ClientID, r.ClientSecret, r.RedirectURI).
		Exchange(HttpClientContext(ctx, m.discoverer.HTTPClient()), q.Code)
	if err != nil {
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: %s", ErrExchangeFailed, redactError(err, string(r.ClientSecret), q.Code)))
	}
	rawIdToken, ok := tk.Extra("id_token").(string)
	if !ok || rawIdToken == "" {
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: %w", ErrExchangeFailed, ErrMissingIdToken))
	}
	verifier, err := md.verifier(r.ClientID, m.now)
	if err != nil {
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: %w", ErrExchangeFailed, err))
	}
	idToken, err := verifier.Verify(ctx, rawIdToken)
	if err != nil {
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: invalid id_token: %w", ErrExchangeFailed, err))
	}
	var claims displayNameClaims
	if err := idToken.Claims(&claims); err != nil {
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: unable to read id_token claims: %w", ErrExchangeFailed, err))
	}

	unlock := m.guard.locks.Lock(ownerID)
	defer unlock()
	// merge into the latest record so fields written since the read survive;
	// the initiation must still be the one this callback answers
	latest, err := m.store.Get(ctx, ownerID)
	switch {
	case errors.Is(err, ErrNotFound) || (err == nil && latest == nil):
		return fail(OutcomeNoCredentials, fmt.Errorf("credentials for %s were removed: %w", ownerID, ErrNoCredentials))
	case err != nil:
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: %w", ErrStoreFailed, err))
	case !csrfTokensEqual(csrfToken, latest.CSRFToken):
		return fail(OutcomeTokenMismatch, ErrTokenMismatch)
	case latest.CompletedAt != 0:
		return fail(OutcomeNoCredentials, fmt.Errorf("%w: %w", ErrNoCredentials, ErrStateConsumed))
	}
	updated := latest.Clone()
	updated.IdToken = IdToken(rawIdToken)
	updated.RefreshToken = RefreshToken(tk.RefreshToken)
	updated.AccessToken = AccessToken(tk.AccessToken)
	updated.ExpiresAt = expiresAt(tk)
	updated.DisplayName = claims.displayName()
	updated.CompletedAt = m.now().Unix()
	if err := m.store.Put(ctx, ownerID, updated); err != nil {
		return fail(OutcomeExchangeFailed, fmt.Errorf("%w: %w", ErrStoreFailed, err))
	}
	return Outcome{Kind: OutcomeAuthorized, OwnerID: ownerID, DisplayName: updated.DisplayName}
}
