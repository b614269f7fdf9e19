// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package metrics holds the prometheus collectors shared by the oidc
// packages. They are registered with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oidc_credentials"

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	DiscoveryFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "discovery_fetch_total",
		Help:      "Discovery documents fetched from providers, by result.",
	}, []string{"result"})

	CallbackOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callback_outcomes_total",
		Help:      "Authorization callbacks handled, by outcome.",
	}, []string{"outcome"})

	Refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_total",
		Help:      "Access token refresh attempts, by result.",
	}, []string{"result"})
)
