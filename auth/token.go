/*
Copyright 2023 TozStore, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth implements the two authenticators the storage service
// accepts: an OAuth2 client-credentials bearer token for normal storage
// calls, and the TSV1 request-signing scheme for anonymous note reads and
// identity login.
package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"golang.org/x/oauth2"
)

// TokenSourceConfig configures a client-credentials token source against
// the storage service's token endpoint.
type TokenSourceConfig struct {
	// APIURL is the base URL of the storage service.
	APIURL string
	// APIKeyID and APISecret are the static client credentials issued at
	// registration, presented with HTTP Basic.
	APIKeyID  string
	APISecret string
	// HTTPClient issues the token request. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *TokenSourceConfig) CheckAndSetDefaults() error {
	if c.APIURL == "" {
		return trace.BadParameter("missing parameter APIURL")
	}
	if c.APIKeyID == "" {
		return trace.BadParameter("missing parameter APIKeyID")
	}
	if c.APISecret == "" {
		return trace.BadParameter("missing parameter APISecret")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return nil
}

// NewTokenSource returns a caching oauth2.TokenSource for the given
// credentials. The first request and any request after expiry fetch a
// fresh token from POST {APIURL}/v1/auth/token; everything in between is
// served from cache. Concurrent refreshes are serialized by the cache
// wrapper, which is stronger than the idempotence the service requires.
func NewTokenSource(cfg TokenSourceConfig) (oauth2.TokenSource, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return oauth2.ReuseTokenSource(nil, &tokenSource{cfg: cfg}), nil
}

// NewTransport returns an http.RoundTripper that attaches
// "Authorization: Bearer <token>" from src to every request. A nil base
// falls back to http.DefaultTransport.
func NewTransport(src oauth2.TokenSource, base http.RoundTripper) http.RoundTripper {
	return &oauth2.Transport{Source: src, Base: base}
}

// ReadError maps a non-2xx service response to the matching trace error
// kind. The service answers rejected credentials with 401, which
// trace.ReadError leaves generic (it only maps 403), so that status is
// mapped here; everything else delegates. Returns nil for 2xx codes.
func ReadError(code int, body []byte) error {
	if code == http.StatusUnauthorized {
		return trace.AccessDenied("%s", string(body))
	}
	return trace.ReadError(code, body)
}

// tokenResponse is the token endpoint's reply. ExpiresAt is RFC3339; some
// deployments omit it and the expiry is read from the JWT instead.
type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type tokenSource struct {
	cfg TokenSourceConfig
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	form := url.Values{"grant_type": []string{"client_credentials"}}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		strings.TrimRight(s.cfg.APIURL, "/")+"/v1/auth/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.APIKeyID, s.cfg.APISecret)

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ReadError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, trace.Wrap(err, "parsing token response")
	}
	if tr.AccessToken == "" {
		return nil, trace.BadParameter("token endpoint returned no access token")
	}

	expiry := tr.ExpiresAt
	if expiry.IsZero() {
		// Older deployments omit expires_at; fall back to the exp claim
		// of the bearer JWT. The signature is the server's problem, not
		// ours, so an unverified parse is fine here.
		expiry = jwtExpiry(tr.AccessToken)
	}
	return &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   "Bearer",
		Expiry:      expiry,
	}, nil
}

// jwtExpiry extracts the exp claim from token without verifying it.
// Returns the zero time when the token is not a JWT or carries no expiry,
// which oauth2 treats as non-expiring.
func jwtExpiry(token string) time.Time {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
