// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package callback provides the http endpoints of the authorization code flow
for an oidc.Manager:

	GET /auth?discovery=&clientId=&clientSecret=&id=&callback=
	GET /auth/callback?state=&code=&error=&error_description=

Auth starts an authorization and redirects the user agent to the provider.
Callback completes it and replies with a short localized message. Mount the
routes under DefaultBasePath:

	h, err := callback.NewHandlers(manager, callback.WithLogger(logger))
	if err != nil {
		// handle error
	}
	r := chi.NewRouter()
	r.Mount(callback.DefaultBasePath, h.Routes())

The responses can be replaced with WithSuccessResponse and
WithErrorResponse.
*/
package callback
