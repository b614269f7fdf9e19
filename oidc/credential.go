// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"time"
)

// CredentialRecord is the persisted set of credentials for one owner. It is
// created without tokens when an authorization is initiated, receives tokens
// when the callback completes, and has its access token replaced on every
// refresh.
type CredentialRecord struct {
	DiscoveryURL string
	ClientID     string
	ClientSecret ClientSecret
	RedirectURI  string
	CSRFToken    string

	IdToken      IdToken
	RefreshToken RefreshToken
	AccessToken  AccessToken
	// ExpiresAt is the access token expiry in unix seconds. Zero means the
	// provider did not report an expiry.
	ExpiresAt int64

	DisplayName string

	// InitiatedAt is when the most recent authorization was initiated, in
	// unix seconds.
	InitiatedAt int64
	// CompletedAt is when the callback for the most recent initiation
	// succeeded, in unix seconds. Zero while the initiation is unused.
	CompletedAt int64
}

// Clone returns a copy of the record.
func (r *CredentialRecord) Clone() *CredentialRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// HasClient reports whether the record carries the client credentials
// required for any token exchange.
func (r *CredentialRecord) HasClient() bool {
	return r != nil && r.ClientID != "" && r.ClientSecret != ""
}

// IsPending reports whether an authorization was initiated but never
// completed with tokens.
func (r *CredentialRecord) IsPending() bool {
	return r != nil && r.AccessToken == ""
}

// Expiry returns ExpiresAt as a time, or the zero time when unknown.
func (r *CredentialRecord) Expiry() time.Time {
	if r == nil || r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(r.ExpiresAt, 0)
}

// CredentialStore persists CredentialRecords keyed by an opaque owner id.
// Get returns ErrNotFound (possibly wrapped) when no record exists.
// Implementations must be safe for concurrent use.
type CredentialStore interface {
	Get(ctx context.Context, ownerID string) (*CredentialRecord, error)
	Put(ctx context.Context, ownerID string, r *CredentialRecord) error
	Delete(ctx context.Context, ownerID string) error
}
