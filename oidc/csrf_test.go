// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCSRFToken(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tk, err := NewCSRFToken()
		require.NoError(err)
		assert.False(seen[tk], "token reused")
		seen[tk] = true

		b, err := base64.URLEncoding.DecodeString(tk)
		require.NoError(err)
		assert.Len(b, CSRFTokenBytes)
		assert.NotContains(tk, "/")
		assert.NotContains(tk, "+")
	}
}

func TestDecodeState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		state     string
		wantOwner string
		wantToken string
		wantErr   bool
	}{
		{name: "valid", state: "42:abc", wantOwner: "42", wantToken: "abc"},
		{name: "token-with-colon", state: "42:a:b", wantOwner: "42", wantToken: "a:b"},
		{name: "empty", state: "", wantErr: true},
		{name: "no-separator", state: "42abc", wantErr: true},
		{name: "empty-owner", state: ":abc", wantErr: true},
		{name: "empty-token", state: "42:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			owner, token, err := DecodeState(tt.state)
			if tt.wantErr {
				require.Error(err)
				assert.ErrorIs(err, ErrInvalidParameter)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantOwner, owner)
			assert.Equal(tt.wantToken, token)
			assert.Equal(tt.state, EncodeState(owner, token))
		})
	}
}

func Test_csrfTokensEqual(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.True(csrfTokensEqual("abc", "abc"))
	assert.False(csrfTokensEqual("abc", "abd"))
	assert.False(csrfTokensEqual("abc", "abcd"))
	assert.False(csrfTokensEqual("", ""))
}
