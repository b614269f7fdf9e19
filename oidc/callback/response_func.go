// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/hashicorp/oidc-credentials/oidc"
)

// SuccessResponseFunc is used by Handlers to create a http response when the
// callback is successful.
//
// The outcome carries the owner id and the display name derived from the
// id_token. The function should use the http.ResponseWriter to send back
// whatever content it wishes to the user agent that completed the flow.
type SuccessResponseFunc func(out oidc.Outcome, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Handlers to create a http response when the
// callback fails.
//
// respErr is only set when the provider sent an error response; otherwise
// out.Err explains the failure.
type ErrorResponseFunc func(out oidc.Outcome, respErr *AuthenErrorResponse, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string
	Description string
	Uri         string
}

// StatusCode returns the http status a callback outcome is reported with.
// Only a csrf token mismatch is reported as unauthorized; the other outcomes
// are messages for the user and reported as 200.
func StatusCode(kind oidc.OutcomeKind) int {
	if kind == oidc.OutcomeTokenMismatch {
		return http.StatusUnauthorized
	}
	return http.StatusOK
}

// MessageFor returns the message key reported for an outcome.
func MessageFor(kind oidc.OutcomeKind) MessageKey {
	switch kind {
	case oidc.OutcomeAuthorized:
		return MsgAuthorized
	case oidc.OutcomeProviderError:
		return MsgProviderError
	case oidc.OutcomeNoCredentials:
		return MsgNoCredentials
	case oidc.OutcomeTokenMismatch:
		return MsgTokenMismatch
	case oidc.OutcomeDiscoveryFailed:
		return MsgBadDiscoveryURL
	default:
		return MsgSomethingBroke
	}
}
