// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecrets_Redacted(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		secret fmt.Stringer
		want   string
	}{
		{"client-secret", ClientSecret("super secret"), RedactedClientSecret},
		{"access-token", AccessToken("super secret"), RedactedAccessToken},
		{"refresh-token", RefreshToken("super secret"), RedactedRefreshToken},
		{"id-token", IdToken("super secret"), RedactedIdToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			assert.Equal(tt.want, tt.secret.String())
			assert.Equal(tt.want, fmt.Sprintf("%v", tt.secret))
			got, err := json.Marshal(tt.secret)
			require.NoError(err)
			assert.Equal(fmt.Sprintf("%q", tt.want), string(got))
		})
	}
}

func TestCredentialRecord_Printing(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	r := CredentialRecord{
		ClientSecret: "s3cret",
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		IdToken:      "IT1",
	}
	printed := fmt.Sprintf("%+v", r)
	for _, secret := range []string{"s3cret", "AT1", "RT1", "IT1"} {
		assert.NotContains(printed, secret)
	}
}

func Test_redactError(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	err := errors.New(`invalid_grant: unknown refresh token "RT1" for client s3cret`)
	got := redactError(err, "s3cret", "RT1", "")
	assert.Equal(`invalid_grant: unknown refresh token "[REDACTED]" for client [REDACTED]`, got)
	assert.Empty(redactError(nil, "x"))
}
