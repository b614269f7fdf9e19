// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for managing OpenID Connect authorization code flow
credentials on behalf of owners identified by an opaque id.

Primary types provided by the package

* Discoverer: resolves a provider discovery URL to IssuerMetadata, caching
results per URL and collapsing concurrent fetches of the same URL.

* CredentialStore: the owner keyed persistence contract for CredentialRecord.
See the store package for memory and redis implementations.

* Manager: initiates authorizations (Initiate), completes them when the
provider redirects back (HandleCallback) and hands out valid access tokens
(Token).

* Guard: checks an access token's expiry before each use and refreshes it
with the stored refresh token when needed.

* ClientSecret, AccessToken, RefreshToken, IdToken: secret strings which
redact themselves when printed or marshaled to JSON.

The oidc/callback package provides the http front-end for the authorization
flow and the oidc/pipeline package attaches bearer tokens to outgoing
messages.
*/
package oidc
