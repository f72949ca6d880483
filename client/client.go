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

// Package client implements the TozStore storage client: record CRUD with
// client-side field encryption, access-key management, sharing and
// authorizer policies, queries, large files, and notes. Every byte of
// field data is encrypted before it leaves the process; the service stores
// envelopes it cannot open.
package client

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"golang.org/x/sync/singleflight"

	e3db "github.com/tozstore/e3db-go"
	"github.com/tozstore/e3db-go/auth"
	"github.com/tozstore/e3db-go/cryptosuites"
)

// Config holds everything a storage client needs: identity, API
// credentials, and key material. It matches the persisted configuration
// document produced at registration.
type Config struct {
	// ClientID is this client's UUID, assigned at registration.
	ClientID uuid.UUID
	// ClientEmail is carried in backup records; it may be empty.
	ClientEmail string
	// APIKeyID and APISecret authenticate to the token endpoint.
	APIKeyID  string
	APISecret string
	// PublicKey and PrivateKey are the client's box keypair in transport
	// encoding.
	PublicKey  string
	PrivateKey string
	// PublicSigningKey and PrivateSigningKey are the Ed25519 pair used
	// for notes and TSV1 requests. Optional; note operations fail
	// without them.
	PublicSigningKey  string
	PrivateSigningKey string
	// APIURL is the service base URL. Defaults to the production
	// endpoint.
	APIURL string
	// Suite is the crypto suite. Defaults to the process-wide selection.
	Suite cryptosuites.Suite
	// HTTPClient is the base HTTP client, before authentication wrapping.
	// Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Log emits debug diagnostics. Defaults to slog.Default.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ClientID == uuid.Nil {
		return trace.BadParameter("missing parameter ClientID")
	}
	if c.APIKeyID == "" {
		return trace.BadParameter("missing parameter APIKeyID")
	}
	if c.APISecret == "" {
		return trace.BadParameter("missing parameter APISecret")
	}
	if c.PublicKey == "" {
		return trace.BadParameter("missing parameter PublicKey")
	}
	if c.PrivateKey == "" {
		return trace.BadParameter("missing parameter PrivateKey")
	}
	if c.APIURL == "" {
		c.APIURL = e3db.DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.Suite == nil {
		c.Suite = cryptosuites.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Log == nil {
		c.Log = slog.Default().With(e3db.Component, e3db.ComponentClient)
	}
	return nil
}

// akCacheKey identifies one access key from this client's point of view.
// The reader is always this client, so it is not part of the key.
type akCacheKey struct {
	writerID   uuid.UUID
	userID     uuid.UUID
	recordType string
}

// Client is a TozStore storage client. It is safe for concurrent use; the
// access-key cache is the only shared mutable state and is guarded
// internally.
type Client struct {
	cfg   Config
	suite cryptosuites.Suite
	log   *slog.Logger

	// clt speaks bearer-authenticated JSON to the storage service.
	clt *roundtrip.Client
	// authedHTTP carries the bearer token for requests roundtrip cannot
	// express, such as PATCH.
	authedHTTP *http.Client
	// httpClient performs raw transfers to signed URLs, without any
	// Authorization header.
	httpClient *http.Client
	// signer produces TSV1 headers for note operations.
	signer *auth.Signer

	akMu    sync.RWMutex
	akCache map[akCacheKey][]byte
	// akGroup deduplicates concurrent EAK fetches for the same tuple.
	akGroup singleflight.Group
}

// New builds a storage client from cfg.
func New(cfg Config) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	src, err := auth.NewTokenSource(auth.TokenSourceConfig{
		APIURL:     cfg.APIURL,
		APIKeyID:   cfg.APIKeyID,
		APISecret:  cfg.APISecret,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	authed := &http.Client{
		Transport: auth.NewTransport(src, cfg.HTTPClient.Transport),
		Timeout:   cfg.HTTPClient.Timeout,
	}
	clt, err := roundtrip.NewClient(cfg.APIURL, "", roundtrip.HTTPClient(authed))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	c := &Client{
		cfg:        cfg,
		suite:      cfg.Suite,
		log:        cfg.Log,
		clt:        clt,
		authedHTTP: authed,
		httpClient: cfg.HTTPClient,
		akCache:    make(map[akCacheKey][]byte),
	}
	if cfg.PrivateSigningKey != "" {
		c.signer, err = auth.NewSigner(cfg.PrivateSigningKey, cfg.ClientID.String())
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return c, nil
}

// ClientID returns this client's UUID.
func (c *Client) ClientID() uuid.UUID {
	return c.cfg.ClientID
}

// convertResponse maps a non-2xx storage response to the matching trace
// error kind: 404 to NotFound, 409 to AlreadyExists, 401/403 to
// AccessDenied, and so on. Transport errors pass through wrapped.
func convertResponse(re *roundtrip.Response, err error) (*roundtrip.Response, error) {
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return re, auth.ReadError(re.Code(), re.Bytes())
}

// unmarshalResponse decodes a successful JSON response body into out.
func unmarshalResponse(re *roundtrip.Response, out any) error {
	if err := json.Unmarshal(re.Bytes(), out); err != nil {
		return trace.Wrap(err, "parsing server response")
	}
	return nil
}

// GenerateKeyPair returns a fresh box keypair in transport encoding for
// the process-wide crypto suite, for registration call sites.
func GenerateKeyPair() (public, private string, err error) {
	pair, err := cryptosuites.Default().GenerateKeyPair()
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	return pair.Public, pair.Private, nil
}

// GenerateSigningKeyPair returns a fresh Ed25519 keypair in transport
// encoding. Sodium suite only.
func GenerateSigningKeyPair() (public, private string, err error) {
	pair, err := cryptosuites.Default().GenerateSigningKeyPair()
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	return pair.Public, pair.Private, nil
}
