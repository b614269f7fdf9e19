// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger for: Discoverer, Guard, Manager
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *discovererOptions:
			v.withLogger = l
		case *guardOptions:
			v.withLogger = l
		case *managerOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is for: Guard, Manager
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *guardOptions:
			v.withNowFunc = now
		case *managerOptions:
			v.withNowFunc = now
		}
	}
}

// WithExpirySkew provides an optional skew used when deciding whether an
// access token must be refreshed before use, for: Guard, Manager
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *guardOptions:
			v.withExpirySkew = d
		case *managerOptions:
			v.withExpirySkew = d
		}
	}
}

// WithHTTPClient provides an optional http client used for every request
// made to a provider, for: Discoverer, Guard, Manager
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *discovererOptions:
			v.withHTTPClient = c
		case *guardOptions:
			v.withHTTPClient = c
		case *managerOptions:
			v.withHTTPClient = c
		}
	}
}

// WithProviderCA provides an optional PEM encoded CA cert used to verify the
// provider's TLS certificate, for: Discoverer, Manager
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *discovererOptions:
			v.withProviderCA = cert
		case *managerOptions:
			v.withProviderCA = cert
		}
	}
}

// WithDiscoveryTTL provides an optional TTL for cached issuer metadata. Zero
// caches metadata for the life of the Discoverer.
func WithDiscoveryTTL(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *discovererOptions:
			v.withTTL = d
		case *managerOptions:
			v.withDiscoveryTTL = d
		}
	}
}

// WithPendingTTL provides an optional lifetime for an initiated but not yet
// completed authorization, for: Manager
func WithPendingTTL(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withPendingTTL = d
		}
	}
}

// WithScopes provides an optional list of scopes requested in the
// authorization URL, for: Manager
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithDiscoverer provides an optional Discoverer to share between Managers,
// for: Manager
func WithDiscoverer(d *Discoverer) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withDiscoverer = d
		}
	}
}
