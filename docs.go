// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package credentials manages OIDC authorization code credentials on behalf
// of owners: it starts the authorization flow, completes the provider
// callback, and keeps stored access tokens fresh for outbound requests.
//
// See the oidc, oidc/callback, oidc/pipeline and store packages.
package credentials
