// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc"
	"github.com/hashicorp/oidc-credentials/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSink collects sent messages and reported statuses.
type testSink struct {
	mu       sync.Mutex
	msgs     []*Message
	statuses []Status
}

func (s *testSink) send(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *testSink) status(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *testSink) sent() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Message(nil), s.msgs...)
}

func testSetup(t *testing.T, expiresAt int64) (*oidc.TestProvider, *store.Memory, *oidc.Manager) {
	t.Helper()
	tp := oidc.StartTestProvider(t)
	tp.SetClientCreds("test-client-id", "test-client-secret")
	s := store.NewMemory()
	t.Cleanup(s.Stop)
	m, err := oidc.NewManager(s, oidc.WithProviderCA(tp.CACert()))
	require.NoError(t, err)
	t.Cleanup(m.Done)

	require.NoError(t, s.Put(context.Background(), "42", &oidc.CredentialRecord{
		DiscoveryURL: tp.DiscoveryURL(),
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		RedirectURI:  "https://example.com/callback",
		RefreshToken: "test-refresh-token",
		AccessToken:  "AT1",
		ExpiresAt:    expiresAt,
	}))
	return tp, s, m
}

func TestNewNode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := &testSink{}

	t.Run("invalid", func(t *testing.T) {
		_, _, m := testSetup(t, 0)
		_, err := NewNode(ctx, nil, "42", sink.send)
		assert.ErrorIs(t, err, oidc.ErrNilParameter)
		_, err = NewNode(ctx, m, "", sink.send)
		assert.ErrorIs(t, err, oidc.ErrInvalidParameter)
		_, err = NewNode(ctx, m, "42", nil)
		assert.ErrorIs(t, err, oidc.ErrNilParameter)
	})
	t.Run("warns-missing-credentials", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, _, m := testSetup(t, 0)
		var buf bytes.Buffer
		logger := hclog.New(&hclog.LoggerOptions{Output: &buf})

		_, err := NewNode(ctx, m, "unknown", sink.send, WithLogger(logger))
		require.NoError(err)
		assert.Contains(buf.String(), "missing credentials")
		assert.Contains(buf.String(), "owner_id=unknown")

		buf.Reset()
		_, err = NewNode(ctx, m, "42", sink.send, WithLogger(logger))
		require.NoError(err)
		assert.Empty(buf.String())
	})
}

func TestNode_HandleInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fresh", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, _, m := testSetup(t, time.Now().Add(time.Hour).Unix())
		sink := &testSink{}
		n, err := NewNode(ctx, m, "42", sink.send, WithStatusFunc(sink.status))
		require.NoError(err)

		n.HandleInput(ctx, &Message{Payload: "hello"})
		sent := sink.sent()
		require.Len(sent, 1)
		assert.Equal("Bearer AT1", sent[0].Headers.Get(AuthorizationHeader))
		assert.Equal("hello", sent[0].Payload)
		assert.NoError(sent[0].Error)
		assert.Equal([]Status{StatusClear}, sink.statuses)
		assert.Zero(tp.TokenRequests(oidc.TestGrantRefreshToken))
	})
	t.Run("expired-refreshes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, s, m := testSetup(t, time.Now().Add(-time.Minute).Unix())
		sink := &testSink{}
		n, err := NewNode(ctx, m, "42", sink.send, WithStatusFunc(sink.status))
		require.NoError(err)

		n.HandleInput(ctx, &Message{Error: errors.New("previous failure")})
		sent := sink.sent()
		require.Len(sent, 1)
		assert.Equal("Bearer test-refreshed-access-token", sent[0].Headers.Get(AuthorizationHeader))
		assert.NoError(sent[0].Error)
		assert.Equal([]Status{StatusRefreshing, StatusClear}, sink.statuses)
		assert.Equal(1, tp.TokenRequests(oidc.TestGrantRefreshToken))

		r, err := s.Get(ctx, "42")
		require.NoError(err)
		assert.Equal(oidc.AccessToken("test-refreshed-access-token"), r.AccessToken)
		assert.Equal(oidc.RefreshToken("test-refresh-token"), r.RefreshToken)
	})
	t.Run("refresh-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, _, m := testSetup(t, time.Now().Add(-time.Minute).Unix())
		tp.SetDisableRefresh(true)
		sink := &testSink{}
		n, err := NewNode(ctx, m, "42", sink.send, WithStatusFunc(sink.status))
		require.NoError(err)

		n.HandleInput(ctx, &Message{Payload: "hello"})
		sent := sink.sent()
		require.Len(sent, 1)
		assert.ErrorIs(sent[0].Error, oidc.ErrRefreshFailed)
		assert.Equal(sent[0].Error, sent[0].Payload)
		assert.Empty(sent[0].AccessToken)
		assert.Empty(sent[0].Headers.Get(AuthorizationHeader))
		assert.Equal([]Status{StatusRefreshing, StatusFailed}, sink.statuses)

		// the next event evaluates again
		tp.SetDisableRefresh(false)
		n.HandleInput(ctx, &Message{Payload: "hello"})
		sent = sink.sent()
		require.Len(sent, 2)
		assert.NoError(sent[1].Error)
		assert.Equal(2, tp.TokenRequests(oidc.TestGrantRefreshToken))
	})
	t.Run("no-credentials", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, _, m := testSetup(t, 0)
		sink := &testSink{}
		n, err := NewNode(ctx, m, "unknown", sink.send, WithStatusFunc(sink.status))
		require.NoError(err)

		n.HandleInput(ctx, &Message{})
		sent := sink.sent()
		require.Len(sent, 1)
		assert.ErrorIs(sent[0].Error, oidc.ErrNoCredentials)
		assert.Equal([]Status{StatusFailed}, sink.statuses)
	})
}

func TestNode_Run(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp, _, m := testSetup(t, time.Now().Add(-time.Minute).Unix())
	sink := &testSink{}
	n, err := NewNode(ctx, m, "42", sink.send)
	require.NoError(err)

	in := make(chan *Message)
	done := make(chan error)
	go func() { done <- n.Run(ctx, in) }()
	for i := 0; i < 10; i++ {
		in <- &Message{Payload: i}
	}
	close(in)
	require.NoError(<-done)

	sent := sink.sent()
	require.Len(sent, 10)
	for _, msg := range sent {
		assert.Equal("Bearer test-refreshed-access-token", msg.Headers.Get(AuthorizationHeader))
	}
	assert.Equal(1, tp.TokenRequests(oidc.TestGrantRefreshToken))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(n.Run(canceled, make(chan *Message)), context.Canceled)
}
