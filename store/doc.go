// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package store provides oidc.CredentialStore implementations.

Memory keeps records in process and sweeps authorizations which were
initiated but never completed. Redis keeps records in a redis server, one key
per owner, and lets redis expire pending authorizations.

	s := store.NewMemory(store.WithLogger(logger))
	defer s.Stop()
	m, err := oidc.NewManager(s)
*/
package store
