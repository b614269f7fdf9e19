// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

const (
	// TestGrantAuthorizationCode is the grant_type of a code exchange.
	TestGrantAuthorizationCode = "authorization_code"
	// TestGrantRefreshToken is the grant_type of a token refresh.
	TestGrantRefreshToken = "refresh_token"
)

// TestProvider is a local TLS server that supports the provider capabilities
// needed to drive the authorization code flow, code exchange and token
// refresh in tests. It counts discovery and token requests so tests can
// assert when the provider was, or was not, contacted.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	signingKey *ecdsa.PrivateKey
	keyID      string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	expectedAuthCode    string
	customClaims        map[string]interface{}
	omitIDToken         bool

	accessToken     string
	refreshToken    string
	expiresIn       int
	refreshedToken  string
	rotatedRefresh  string
	disableRefresh  bool
	disableToken    bool
	discoveryStatus int

	discoveryRequests int
	tokenRequests     map[string]int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped by
// t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                   t,
		keyID:               "test-key",
		allowedRedirectURIs: []string{"https://example.com/callback"},
		accessToken:         "test-access-token",
		refreshToken:        "test-refresh-token",
		expiresIn:           3600,
		refreshedToken:      "test-refreshed-access-token",
		tokenRequests:       map[string]int{},
	}
	p.signingKey = TestGenerateKey(t)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the provider's issuer, which is its base URL.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// DiscoveryURL returns the URL of the provider's discovery document.
func (p *TestProvider) DiscoveryURL() string { return p.Addr() + WellKnownSuffix }

// CACert returns the pem-encoded CA certificate used by the provider's HTTPS
// server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client that trusts the provider and does not
// follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

// SetClientCreds configures the client credentials the token endpoint
// requires.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the auth code returned from /auth and the
// allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs configures the redirect URIs accepted by /token.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetCustomClaims sets additional claims for the issued id_token.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetTokenReply configures the tokens returned by a code exchange. A zero
// expiresIn omits expires_in from the reply.
func (p *TestProvider) SetTokenReply(accessToken, refreshToken string, expiresIn int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = accessToken
	p.refreshToken = refreshToken
	p.expiresIn = expiresIn
}

// SetRefreshReply configures the access token returned by a refresh and,
// when rotatedRefreshToken is not empty, a new refresh token.
func (p *TestProvider) SetRefreshReply(accessToken, rotatedRefreshToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshedToken = accessToken
	p.rotatedRefresh = rotatedRefreshToken
}

// SetDisableRefresh makes refresh requests fail with invalid_grant.
func (p *TestProvider) SetDisableRefresh(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRefresh = disable
}

// SetDisableToken makes every token request fail with invalid_grant.
func (p *TestProvider) SetDisableToken(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableToken = disable
}

// SetDiscoveryStatus makes the discovery endpoint reply with the status code.
// Zero restores normal replies.
func (p *TestProvider) SetDiscoveryStatus(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryStatus = code
}

// OmitIDTokens forces an error state where /token does not return an
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DiscoveryRequests returns the number of discovery documents served.
func (p *TestProvider) DiscoveryRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryRequests
}

// TokenRequests returns the number of token requests received for the
// grant type.
func (p *TestProvider) TokenRequests(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests[grantType]
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// clientAuthenticated accepts client_secret_basic and client_secret_post.
func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	id, secret, ok := req.BasicAuth()
	if ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id, secret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	return id == p.clientID && secret == p.clientSecret
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case WellKnownSuffix:
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryRequests++
		if p.discoveryStatus != 0 {
			w.WriteHeader(p.discoveryStatus)
			return
		}

		reply := struct {
			Issuer           string   `json:"issuer"`
			AuthEndpoint     string   `json:"authorization_endpoint"`
			TokenEndpoint    string   `json:"token_endpoint"`
			JWKSURI          string   `json:"jwks_uri"`
			UserinfoEndpoint string   `json:"userinfo_endpoint"`
			Algs             []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:           p.Addr(),
			AuthEndpoint:     p.Addr() + "/auth",
			TokenEndpoint:    p.Addr() + "/token",
			JWKSURI:          p.Addr() + "/certs",
			UserinfoEndpoint: p.Addr() + "/userinfo",
			Algs:             []string{string(jose.ES256)},
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		switch {
		case qv.Get("response_type") != "code":
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		case !strings.Contains(" "+qv.Get("scope")+" ", " openid "):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		case qv.Get("redirect_uri") == "":
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		redirectURI := qv.Get("redirect_uri") +
			"?state=" + url.QueryEscape(qv.Get("state")) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, &jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{{
				Key:       p.signingKey.Public(),
				KeyID:     p.keyID,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			}},
		})

	case "/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		grantType := req.FormValue("grant_type")
		p.tokenRequests[grantType]++

		switch {
		case !p.clientAuthenticated(req):
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "bad client credentials")
		case p.disableToken:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "token endpoint disabled")
		case grantType == TestGrantAuthorizationCode:
			p.serveCodeExchange(w, req)
		case grantType == TestGrantRefreshToken:
			p.serveRefresh(w, req)
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testTokenReply struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

func (p *TestProvider) serveCodeExchange(w http.ResponseWriter, req *http.Request) {
	redirectAllowed := false
	for _, u := range p.allowedRedirectURIs {
		if u == req.FormValue("redirect_uri") {
			redirectAllowed = true
		}
	}
	switch {
	case !redirectAllowed:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
		return
	case p.expectedAuthCode == "" || req.FormValue("code") != p.expectedAuthCode:
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
		return
	}

	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   "alice@example.com",
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(5 * time.Minute)),
		Audience:  jwt.Audience{p.clientID},
	}
	privateClaims := p.customClaims
	if privateClaims == nil {
		privateClaims = map[string]interface{}{}
	}

	reply := testTokenReply{
		AccessToken:  p.accessToken,
		TokenType:    "Bearer",
		RefreshToken: p.refreshToken,
		ExpiresIn:    p.expiresIn,
	}
	if !p.omitIDToken {
		reply.IDToken = TestSignJWT(p.t, p.signingKey, p.keyID, stdClaims, privateClaims)
	}
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) serveRefresh(w http.ResponseWriter, req *http.Request) {
	switch {
	case p.disableRefresh:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh token is expired")
		return
	case req.FormValue("refresh_token") != p.refreshToken:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", fmt.Sprintf("unknown refresh token %q", req.FormValue("refresh_token")))
		return
	}
	reply := testTokenReply{
		AccessToken: p.refreshedToken,
		TokenType:   "Bearer",
		ExpiresIn:   p.expiresIn,
	}
	if p.rotatedRefresh != "" {
		reply.RefreshToken = p.rotatedRefresh
		p.refreshToken = p.rotatedRefresh
	}
	_ = p.writeJSON(w, &reply)
}
