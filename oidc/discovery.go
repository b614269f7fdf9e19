// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-credentials/oidc/internal/metrics"
	sdkHttp "github.com/hashicorp/oidc-credentials/sdk/http"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// WellKnownSuffix is the path appended to an issuer to locate its discovery
// document.
const WellKnownSuffix = "/.well-known/openid-configuration"

// maxDiscoveryDocSize bounds the discovery document read from a provider.
const maxDiscoveryDocSize = 1 << 20

// IssuerMetadata is the immutable subset of a provider's discovery document
// needed for the authorization code flow.
type IssuerMetadata struct {
	DiscoveryURL          string
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	JWKSURI               string
	UserInfoEndpoint      string
	SigningAlgs           []string
	// AuthStyle is how client credentials are sent to the token endpoint.
	AuthStyle oauth2.AuthStyle

	keySet oidc.KeySet
}

// Endpoint returns the oauth2 endpoints of the issuer.
func (md *IssuerMetadata) Endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   md.AuthorizationEndpoint,
		TokenURL:  md.TokenEndpoint,
		AuthStyle: md.AuthStyle,
	}
}

// verifier returns an id_token verifier for the client. The verifier is only
// available for metadata returned by a Discoverer.
func (md *IssuerMetadata) verifier(clientID string, now func() time.Time) (*oidc.IDTokenVerifier, error) {
	const op = "IssuerMetadata.verifier"
	if md.keySet == nil {
		return nil, fmt.Errorf("%s: issuer %q has no key set: %w", op, md.Issuer, ErrInvalidParameter)
	}
	algs := md.SigningAlgs
	if len(algs) == 0 {
		algs = []string{oidc.RS256}
	}
	return oidc.NewVerifier(md.Issuer, md.keySet, &oidc.Config{
		ClientID:             clientID,
		SupportedSigningAlgs: algs,
		Now:                  now,
	}), nil
}

// Discoverer resolves discovery URLs to IssuerMetadata. Results are cached per
// URL and concurrent resolves of the same URL share one fetch.
type Discoverer struct {
	client *http.Client
	cache  *cache.Cache
	group  singleflight.Group
	logger hclog.Logger

	mu sync.Mutex

	// backgroundCtx carries the http client for discovery and for the JWKS
	// fetches made later by the discovered providers.
	backgroundCtx       context.Context
	backgroundCtxCancel context.CancelFunc
}

// NewDiscoverer creates a Discoverer.
//
// Supported options: WithLogger, WithHTTPClient, WithProviderCA,
// WithDiscoveryTTL
//
// See Discoverer.Done() which must be called to release resources.
func NewDiscoverer(opt ...Option) (*Discoverer, error) {
	const op = "NewDiscoverer"
	opts := getDiscovererOpts(opt...)

	client := opts.withHTTPClient
	if client == nil {
		var err error
		client, err = sdkHttp.NewClient(opts.withProviderCA)
		if err != nil {
			if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
				return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
			}
			return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
		}
	}

	expiration, cleanup := cache.NoExpiration, time.Duration(0)
	if opts.withTTL > 0 {
		expiration, cleanup = opts.withTTL, opts.withTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Discoverer{
		client:              client,
		cache:               cache.New(expiration, cleanup),
		logger:              opts.withLogger,
		backgroundCtx:       oidc.ClientContext(ctx, client),
		backgroundCtxCancel: cancel,
	}, nil
}

// Done releases the Discoverer's background resources. Metadata resolved
// before Done can no longer refresh its JWKS.
func (d *Discoverer) Done() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backgroundCtxCancel != nil {
		d.backgroundCtxCancel()
		d.backgroundCtxCancel = nil
	}
	d.cache.Flush()
}

// HTTPClient returns the client used for provider requests.
func (d *Discoverer) HTTPClient() *http.Client { return d.client }

// Resolve returns the metadata for the discovery URL, fetching the discovery
// document on a cache miss. Failures are returned as a *DiscoveryError.
func (d *Discoverer) Resolve(ctx context.Context, discoveryURL string) (*IssuerMetadata, error) {
	const op = "Discoverer.Resolve"
	docURL, err := discoveryDocumentURL(discoveryURL)
	if err != nil {
		return nil, &DiscoveryError{URL: discoveryURL, Err: fmt.Errorf("%s: %w", op, err)}
	}
	if md, ok := d.cache.Get(discoveryURL); ok {
		return md.(*IssuerMetadata), nil
	}

	ch := d.group.DoChan(discoveryURL, func() (interface{}, error) {
		// another caller may have filled the cache while we waited
		if md, ok := d.cache.Get(discoveryURL); ok {
			return md, nil
		}
		md, err := d.fetch(discoveryURL, docURL)
		if err != nil {
			metrics.DiscoveryFetches.WithLabelValues(metrics.ResultFailure).Inc()
			d.logger.Error("issuer discovery failed", "discovery_url", discoveryURL, "error", err)
			return nil, &DiscoveryError{URL: discoveryURL, Err: err}
		}
		metrics.DiscoveryFetches.WithLabelValues(metrics.ResultSuccess).Inc()
		d.cache.SetDefault(discoveryURL, md)
		return md, nil
	})

	select {
	case <-ctx.Done():
		return nil, &DiscoveryError{URL: discoveryURL, Err: fmt.Errorf("%s: %w", op, ctx.Err())}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*IssuerMetadata), nil
	}
}

// discoveryDocument is the subset of the provider's discovery document we
// read. The issuer is taken from the document as served and need not prefix
// the discovery URL.
type discoveryDocument struct {
	Issuer      string   `json:"issuer"`
	AuthURL     string   `json:"authorization_endpoint"`
	TokenURL    string   `json:"token_endpoint"`
	JWKSURI     string   `json:"jwks_uri"`
	UserInfoURL string   `json:"userinfo_endpoint"`
	Algorithms  []string `json:"id_token_signing_alg_values_supported"`
	AuthMethods []string `json:"token_endpoint_auth_methods_supported"`
}

func (d *Discoverer) fetch(discoveryURL, docURL string) (*IssuerMetadata, error) {
	const op = "Discoverer.fetch"
	d.mu.Lock()
	ctx := d.backgroundCtx
	d.mu.Unlock()

	d.logger.Debug("fetching issuer metadata", "discovery_url", discoveryURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, docURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create discovery request: %w", op, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch discovery document: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiscoveryDocSize))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read discovery document: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: discovery request returned %s: %s", op, resp.Status, body)
	}

	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%s: malformed discovery document: %w", op, err)
	}
	switch {
	case doc.Issuer == "":
		return nil, fmt.Errorf("%s: discovery document is missing the issuer: %w", op, ErrInvalidParameter)
	case doc.AuthURL == "" || doc.TokenURL == "":
		return nil, fmt.Errorf("%s: discovery document is missing the authorization or token endpoint: %w", op, ErrInvalidParameter)
	}

	md := &IssuerMetadata{
		DiscoveryURL:          discoveryURL,
		Issuer:                doc.Issuer,
		AuthorizationEndpoint: doc.AuthURL,
		TokenEndpoint:         doc.TokenURL,
		JWKSURI:               doc.JWKSURI,
		UserInfoEndpoint:      doc.UserInfoURL,
		SigningAlgs:           doc.Algorithms,
		AuthStyle:             authStyle(doc.AuthMethods),
	}
	if doc.JWKSURI != "" {
		// keys are fetched lazily with the discoverer's http client
		md.keySet = oidc.NewRemoteKeySet(ctx, doc.JWKSURI)
	}
	return md, nil
}

// authStyle prefers client_secret_basic, which is also the default when the
// provider does not advertise its methods.
func authStyle(methods []string) oauth2.AuthStyle {
	if len(methods) == 0 {
		return oauth2.AuthStyleInHeader
	}
	style := oauth2.AuthStyleAutoDetect
	for _, m := range methods {
		switch m {
		case "client_secret_basic":
			return oauth2.AuthStyleInHeader
		case "client_secret_post":
			style = oauth2.AuthStyleInParams
		}
	}
	return style
}

// discoveryDocumentURL accepts either an issuer or the full URL of its
// discovery document and returns the URL of the document.
func discoveryDocumentURL(discoveryURL string) (string, error) {
	if discoveryURL == "" {
		return "", fmt.Errorf("discovery URL is empty: %w", ErrInvalidParameter)
	}
	u, err := url.Parse(discoveryURL)
	if err != nil {
		return "", fmt.Errorf("discovery URL %q is invalid: %w", discoveryURL, ErrInvalidParameter)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("discovery URL %q scheme is not http or https: %w", discoveryURL, ErrInvalidParameter)
	}
	if u.Host == "" {
		return "", fmt.Errorf("discovery URL %q has no host: %w", discoveryURL, ErrInvalidParameter)
	}
	if strings.HasSuffix(u.Path, WellKnownSuffix) {
		return discoveryURL, nil
	}
	return strings.TrimSuffix(discoveryURL, "/") + WellKnownSuffix, nil
}

// discovererOptions is the set of available options for Discoverer functions
type discovererOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
	withProviderCA string
	withTTL        time.Duration
}

// discovererDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func discovererDefaults() discovererOptions {
	return discovererOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getDiscovererOpts gets the discoverer defaults and applies the opt
// overrides passed in
func getDiscovererOpts(opt ...Option) discovererOptions {
	opts := discovererDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
