// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hashicorp/go-uuid"
)

// CSRFTokenBytes is the number of random bytes in a CSRF token (144 bits).
const CSRFTokenBytes = 18

// stateSeparator separates the owner id and csrf token in the oauth state
// parameter.
const stateSeparator = ":"

// NewCSRFToken generates a random, URL safe token suitable for binding an
// authorization request to its callback.
func NewCSRFToken() (string, error) {
	const op = "oidc.NewCSRFToken"
	b, err := uuid.GenerateRandomBytes(CSRFTokenBytes)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate random bytes: %w", op, err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// EncodeState returns the oauth state parameter for an owner and csrf token.
func EncodeState(ownerID, csrfToken string) string {
	return ownerID + stateSeparator + csrfToken
}

// DecodeState splits an oauth state parameter into the owner id and csrf
// token. The split happens on the first separator only, so owner ids must
// not contain a colon while csrf tokens may. Both fields must be non-empty.
func DecodeState(state string) (ownerID, csrfToken string, err error) {
	const op = "oidc.DecodeState"
	ownerID, csrfToken, ok := strings.Cut(state, stateSeparator)
	if !ok || ownerID == "" || csrfToken == "" {
		return "", "", fmt.Errorf("%s: state is not in the form owner:token: %w", op, ErrInvalidParameter)
	}
	return ownerID, csrfToken, nil
}

// csrfTokensEqual compares tokens in constant time.
func csrfTokensEqual(presented, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
