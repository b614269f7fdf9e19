// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCallbackSetup(t *testing.T, opt ...Option) (*TestProvider, *testStore, *Manager) {
	t.Helper()
	tp := StartTestProvider(t)
	tp.SetClientCreds("test-client-id", "test-client-secret")
	tp.SetExpectedAuthCode("test-code")
	s := newTestStore()
	return tp, s, testManager(t, tp, s, opt...)
}

func TestManager_HandleCallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("authorized", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)
		tp.SetTokenReply("AT1", "RT1", 3600)
		tp.SetCustomClaims(map[string]interface{}{"email": "a@b.com"})

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		require.NoError(out.Err)
		assert.True(out.Authorized())
		assert.Equal("42", out.OwnerID)
		assert.Equal("a@b.com", out.DisplayName)

		r := s.record("42")
		assert.Equal(AccessToken("AT1"), r.AccessToken)
		assert.Equal(RefreshToken("RT1"), r.RefreshToken)
		assert.NotEmpty(r.IdToken)
		assert.Equal("a@b.com", r.DisplayName)
		assert.InDelta(time.Now().Add(time.Hour).Unix(), r.ExpiresAt, 10)
		assert.Equal(a.CSRFToken, r.CSRFToken)
		assert.Equal(ClientSecret("test-client-secret"), r.ClientSecret)
		assert.False(r.IsPending())
		assert.Equal(1, tp.TokenRequests(TestGrantAuthorizationCode))
	})
	t.Run("state-is-single-use", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)
		tp.SetTokenReply("AT1", "RT1", 3600)

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		require.NoError(out.Err)
		completed := s.record("42")
		assert.NotZero(completed.CompletedAt)

		tp.SetExpectedAuthCode("other-code")
		tp.SetTokenReply("AT2", "RT2", 3600)
		out = m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "other-code"})
		assert.Equal(OutcomeNoCredentials, out.Kind)
		assert.ErrorIs(out.Err, ErrStateConsumed)
		assert.Equal(1, tp.TokenRequests(TestGrantAuthorizationCode))
		assert.Equal(completed, s.record("42"))

		// a new initiation can be completed again
		tp.SetExpectedAuthCode("test-code")
		a, err = m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		assert.Zero(s.record("42").CompletedAt)
		out = m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		require.NoError(out.Err)
		assert.Equal(AccessToken("AT2"), s.record("42").AccessToken)
	})
	t.Run("initiated-during-exchange", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		newer := s.record("42")
		newer.CSRFToken = "newer-token"
		s.onGet = func(n int) {
			// the callback reads once before the exchange and once before persisting
			if n == 3 {
				s.set("42", newer)
			}
		}
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		assert.Equal(OutcomeTokenMismatch, out.Kind)
		assert.ErrorIs(out.Err, ErrTokenMismatch)
		assert.Equal(1, tp.TokenRequests(TestGrantAuthorizationCode))
		assert.Equal(newer, s.record("42"))
	})
	t.Run("no-expiry", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)
		tp.SetTokenReply("AT1", "", 0)

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		require.NoError(out.Err)
		r := s.record("42")
		assert.Zero(r.ExpiresAt)
		assert.Empty(r.RefreshToken)

		res, err := m.Token(ctx, "42")
		require.NoError(err)
		assert.Equal(StateFresh, res.State)
	})
	t.Run("provider-error-skips-store", func(t *testing.T) {
		assert := assert.New(t)
		_, s, m := testCallbackSetup(t)

		out := m.HandleCallback(ctx, CallbackQuery{State: "42:abc", Error: "access_denied", ErrorDescription: "user said no"})
		assert.Equal(OutcomeProviderError, out.Kind)
		assert.Equal("access_denied", out.ProviderError)
		assert.Equal("user said no", out.ProviderErrorDescription)
		gets, puts := s.counts()
		assert.Zero(gets)
		assert.Zero(puts)
	})
	t.Run("malformed-state", func(t *testing.T) {
		assert := assert.New(t)
		_, s, m := testCallbackSetup(t)

		for _, state := range []string{"", "42", ":abc", "42:"} {
			out := m.HandleCallback(ctx, CallbackQuery{State: state, Code: "test-code"})
			assert.Equal(OutcomeNoCredentials, out.Kind, state)
			assert.ErrorIs(out.Err, ErrNoCredentials, state)
		}
		gets, _ := s.counts()
		assert.Zero(gets)
	})
	t.Run("unknown-owner", func(t *testing.T) {
		assert := assert.New(t)
		tp, _, m := testCallbackSetup(t)

		out := m.HandleCallback(ctx, CallbackQuery{State: "7:abc", Code: "test-code"})
		assert.Equal(OutcomeNoCredentials, out.Kind)
		assert.Equal("7", out.OwnerID)
		assert.ErrorIs(out.Err, ErrNoCredentials)
		assert.Zero(tp.TokenRequests(TestGrantAuthorizationCode))
	})
	t.Run("token-mismatch-never-exchanges", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)

		_, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		before := s.record("42")
		out := m.HandleCallback(ctx, CallbackQuery{State: "42:not-the-token", Code: "test-code"})
		assert.Equal(OutcomeTokenMismatch, out.Kind)
		assert.ErrorIs(out.Err, ErrTokenMismatch)
		assert.Zero(tp.TokenRequests(TestGrantAuthorizationCode))
		assert.Equal(before, s.record("42"))
	})
	t.Run("superseded-initiation", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, _, m := testCallbackSetup(t)

		first, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		_, err = m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		out := m.HandleCallback(ctx, CallbackQuery{State: first.State, Code: "test-code"})
		assert.Equal(OutcomeTokenMismatch, out.Kind)
	})
	t.Run("expired-pending", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		now := time.Now()
		clock := func() time.Time { return now }
		tp, _, m := testCallbackSetup(t, WithNow(func() time.Time { return clock() }))

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		clock = func() time.Time { return now.Add(DefaultPendingTTL + time.Second) }
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		assert.Equal(OutcomeNoCredentials, out.Kind)
		assert.ErrorIs(out.Err, ErrExpiredState)
		assert.Zero(tp.TokenRequests(TestGrantAuthorizationCode))
	})
	t.Run("discovery-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		// a fresh manager has an empty discovery cache
		m2 := testManager(t, tp, s)
		tp.SetDiscoveryStatus(500)
		out := m2.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		assert.Equal(OutcomeDiscoveryFailed, out.Kind)
		assert.ErrorIs(out.Err, ErrDiscovery)
	})
	t.Run("exchange-rejected", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "wrong-code"})
		assert.Equal(OutcomeExchangeFailed, out.Kind)
		assert.ErrorIs(out.Err, ErrExchangeFailed)
		assert.NotContains(out.Err.Error(), "test-client-secret")
		assert.True(s.record("42").IsPending())
	})
	t.Run("missing-code", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, _, m := testCallbackSetup(t)

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State})
		assert.Equal(OutcomeExchangeFailed, out.Kind)
		assert.Zero(tp.TokenRequests(TestGrantAuthorizationCode))
	})
	t.Run("missing-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)
		tp.OmitIDTokens()

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		assert.Equal(OutcomeExchangeFailed, out.Kind)
		assert.ErrorIs(out.Err, ErrMissingIdToken)
		assert.True(s.record("42").IsPending())
	})
	t.Run("store-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testCallbackSetup(t)

		a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
		require.NoError(err)
		s.putErr = errTestStore
		out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
		assert.Equal(OutcomeExchangeFailed, out.Kind)
		assert.ErrorIs(out.Err, ErrStoreFailed)
	})
}

func TestManager_HandleCallback_DisplayName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		claims map[string]interface{}
		want   string
	}{
		{"preferred", map[string]interface{}{"preferred_username": "alice", "prefered_username": "al", "email": "a@b.com"}, "alice"},
		{"misspelled", map[string]interface{}{"prefered_username": "al", "email": "a@b.com"}, "al"},
		{"email", map[string]interface{}{"email": "a@b.com"}, "a@b.com"},
		{"none", map[string]interface{}{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp, s, m := testCallbackSetup(t)
			tp.SetCustomClaims(tt.claims)
			ctx := context.Background()

			a, err := m.Initiate(ctx, testAuthRequest(tp, "42"))
			require.NoError(err)
			out := m.HandleCallback(ctx, CallbackQuery{State: a.State, Code: "test-code"})
			require.NoError(out.Err)
			assert.Equal(tt.want, out.DisplayName)
			assert.Equal(tt.want, s.record("42").DisplayName)
		})
	}
}

func TestParseCallbackQuery(t *testing.T) {
	t.Parallel()
	v := url.Values{}
	v.Set("state", "42:abc")
	v.Set("code", "c")
	v.Set("error", "e")
	v.Set("error_description", "d")
	assert.Equal(t, CallbackQuery{State: "42:abc", Code: "c", Error: "e", ErrorDescription: "d"}, ParseCallbackQuery(v))
}

func TestOutcomeKind_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("authorized", OutcomeAuthorized.String())
	assert.Equal("provider_error", OutcomeProviderError.String())
	assert.Equal("no_credentials", OutcomeNoCredentials.String())
	assert.Equal("token_mismatch", OutcomeTokenMismatch.String())
	assert.Equal("discovery_failed", OutcomeDiscoveryFailed.String())
	assert.Equal("exchange_failed", OutcomeExchangeFailed.String())
}
