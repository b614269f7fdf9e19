// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"net/url"
)

// CallbackQuery carries the parameters a provider sends to the redirect URI.
type CallbackQuery struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// ParseCallbackQuery reads a CallbackQuery from request parameters.
func ParseCallbackQuery(v url.Values) CallbackQuery {
	return CallbackQuery{
		State:            v.Get("state"),
		Code:             v.Get("code"),
		Error:            v.Get("error"),
		ErrorDescription: v.Get("error_description"),
	}
}

// OutcomeKind classifies the result of handling a callback.
type OutcomeKind int

const (
	OutcomeAuthorized OutcomeKind = iota
	OutcomeProviderError
	OutcomeNoCredentials
	OutcomeTokenMismatch
	OutcomeDiscoveryFailed
	OutcomeExchangeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeProviderError:
		return "provider_error"
	case OutcomeNoCredentials:
		return "no_credentials"
	case OutcomeTokenMismatch:
		return "token_mismatch"
	case OutcomeDiscoveryFailed:
		return "discovery_failed"
	case OutcomeExchangeFailed:
		return "exchange_failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the result of HandleCallback. Err is set for every kind except
// OutcomeAuthorized and OutcomeProviderError.
type Outcome struct {
	Kind    OutcomeKind
	OwnerID string

	// ProviderError and ProviderErrorDescription are the error and
	// error_description sent by the provider.
	ProviderError            string
	ProviderErrorDescription string

	// DisplayName is set when authorized.
	DisplayName string

	Err error
}

// Authorized reports whether the callback stored a token set.
func (o Outcome) Authorized() bool { return o.Kind == OutcomeAuthorized }
