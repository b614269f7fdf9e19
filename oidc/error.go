// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDiscovery        = errors.New("discovery failed")
	ErrNotFound         = errors.New("not found")
	ErrNoCredentials    = errors.New("no credentials")
	ErrExpiredState     = errors.New("authorization state is expired")
	ErrStateConsumed    = errors.New("authorization state was already used")
	ErrTokenMismatch    = errors.New("csrf token mismatch")
	ErrExchangeFailed   = errors.New("code exchange failed")
	ErrMissingIdToken   = errors.New("id_token is missing")
	ErrRefreshFailed    = errors.New("token refresh failed")
	ErrStoreFailed      = errors.New("credential store failed")
)

// DiscoveryError is returned when a discovery URL cannot be resolved to
// issuer metadata.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("unable to discover issuer at %s: %s", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrDiscovery) for any *DiscoveryError.
func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscovery }

// RefreshError is returned when an expired access token could not be
// refreshed for an owner.
type RefreshError struct {
	OwnerID string
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("unable to refresh access token for %s: %s", e.OwnerID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, ErrRefreshFailed) for any *RefreshError.
func (e *RefreshError) Is(target error) bool { return target == ErrRefreshFailed }
