// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"testing"

	"github.com/hashicorp/oidc-credentials/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *oidc.CredentialRecord {
	return &oidc.CredentialRecord{
		DiscoveryURL: "https://idp.example/.well-known/openid-configuration",
		ClientID:     "abc",
		ClientSecret: "s3cret",
		RedirectURI:  "https://app/cb",
		CSRFToken:    "csrf",
		IdToken:      "IT1",
		RefreshToken: "RT1",
		AccessToken:  "AT1",
		ExpiresAt:    1700000000,
		DisplayName:  "a@b.com",
		InitiatedAt:  1699990000,
		CompletedAt:  1699990060,
	}
}

// testStoreContract exercises the behavior every oidc.CredentialStore must
// have.
func testStoreContract(t *testing.T, s oidc.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("not-found", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, oidc.ErrNotFound)
	})
	t.Run("round-trip", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		want := testRecord()
		require.NoError(s.Put(ctx, "42", want))
		got, err := s.Get(ctx, "42")
		require.NoError(err)
		assert.Equal(want, got)
	})
	t.Run("copies", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		r := testRecord()
		require.NoError(s.Put(ctx, "copies", r))
		r.AccessToken = "changed"
		got, err := s.Get(ctx, "copies")
		require.NoError(err)
		assert.Equal(oidc.AccessToken("AT1"), got.AccessToken)
		got.AccessToken = "changed again"
		again, err := s.Get(ctx, "copies")
		require.NoError(err)
		assert.Equal(oidc.AccessToken("AT1"), again.AccessToken)
	})
	t.Run("overwrite", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		require.NoError(s.Put(ctx, "over", testRecord()))
		r := testRecord()
		r.AccessToken = "AT2"
		require.NoError(s.Put(ctx, "over", r))
		got, err := s.Get(ctx, "over")
		require.NoError(err)
		assert.Equal(oidc.AccessToken("AT2"), got.AccessToken)
	})
	t.Run("delete", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		require.NoError(s.Put(ctx, "gone", testRecord()))
		require.NoError(s.Delete(ctx, "gone"))
		_, err := s.Get(ctx, "gone")
		assert.ErrorIs(err, oidc.ErrNotFound)
		assert.NoError(s.Delete(ctx, "never-existed"))
	})
	t.Run("invalid-put", func(t *testing.T) {
		assert := assert.New(t)
		assert.ErrorIs(s.Put(ctx, "", testRecord()), oidc.ErrInvalidParameter)
		assert.ErrorIs(s.Put(ctx, "42", nil), oidc.ErrNilParameter)
	})
}
