// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package pipeline attaches an owner's OIDC access token to messages flowing
through a request pipeline.

A Node handles each message independently: it asks its TokenSource for a
valid token, refreshing an expired one, and sends the message on with an
"Authorization: Bearer" header. When the token cannot be refreshed the
message is sent on with its Error set instead, so later stages can react.

	n, err := pipeline.NewNode(ctx, manager, ownerID, next,
		pipeline.WithLogger(logger),
		pipeline.WithStatusFunc(report),
	)
	if err != nil {
		// handle error
	}
	go n.Run(ctx, in)
*/
package pipeline
