// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc"
)

const (
	// DefaultCleanupInterval is how often Memory looks for expired pending
	// authorizations.
	DefaultCleanupInterval = time.Minute

	// DefaultKeyPrefix is prepended to owner ids to form redis keys.
	DefaultKeyPrefix = "oidc-credentials:"
)

// options is the set of available options for store functions
type options struct {
	withLogger          hclog.Logger
	withNowFunc         func() time.Time
	withPendingTTL      time.Duration
	withCleanupInterval time.Duration
	withKeyPrefix       string
}

// getDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func getDefaults() options {
	return options{
		withLogger:          hclog.NewNullLogger(),
		withNowFunc:         time.Now,
		withPendingTTL:      oidc.DefaultPendingTTL,
		withCleanupInterval: DefaultCleanupInterval,
		withKeyPrefix:       DefaultKeyPrefix,
	}
}

// getOpts gets the defaults and applies the opt overrides passed in
func getOpts(opt ...oidc.Option) options {
	opts := getDefaults()
	oidc.ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithNow provides an optional func for the current time.
func WithNow(now func() time.Time) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && now != nil {
			o.withNowFunc = now
		}
	}
}

// WithPendingTTL provides an optional lifetime for records whose
// authorization was initiated but never completed. It should match the
// Manager's pending TTL. Zero keeps pending records forever.
func WithPendingTTL(d time.Duration) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withPendingTTL = d
		}
	}
}

// WithCleanupInterval provides an optional interval between sweeps of
// expired pending records, for: NewMemory
func WithCleanupInterval(d time.Duration) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withCleanupInterval = d
		}
	}
}

// WithKeyPrefix provides an optional prefix for redis keys, for: NewRedis,
// NewRedisWithClient
func WithKeyPrefix(prefix string) oidc.Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withKeyPrefix = prefix
		}
	}
}
