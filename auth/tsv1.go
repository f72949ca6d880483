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

package auth

import (
	"crypto/ed25519"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/tozstore/e3db-go/cryptosuites"
)

// AuthenticationMethod is the TSV1 scheme identifier that opens every
// signed Authorization header.
const AuthenticationMethod = "TSV1-ED25519-BLAKE2B"

// Signer produces TSV1 Authorization headers: an Ed25519 signature over
// the BLAKE2b hash of a canonical rendering of the request. The signer is
// stateless across requests; key material is derived once at construction.
type Signer struct {
	clientID  string
	seed      []byte
	publicB64 string
	clock     clockwork.Clock
}

// NewSigner builds a Signer from an unpadded-Base64URL private signing key
// (64-byte seed-plus-public form or bare 32-byte seed) and the client id
// carried in the uid clause. An empty client id is permitted for fully
// anonymous reads with an ephemeral key.
func NewSigner(privateSigningKey, clientID string) (*Signer, error) {
	raw, err := cryptosuites.Base64Decode(privateSigningKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize, ed25519.SeedSize:
	default:
		return nil, trace.BadParameter("signing key must be %d or %d bytes, got %d",
			ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}
	seed := raw[:ed25519.SeedSize]
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return &Signer{
		clientID:  clientID,
		seed:      seed,
		publicB64: cryptosuites.Base64Encode(pub),
		clock:     clockwork.NewRealClock(),
	}, nil
}

// WithClock replaces the signer's clock, for tests.
func (s *Signer) WithClock(clock clockwork.Clock) *Signer {
	out := *s
	out.clock = clock
	return &out
}

// SignRequest sets the Authorization header of req to a fresh TSV1
// signature using the current time and a random nonce.
func (s *Signer) SignRequest(req *http.Request) error {
	header, err := s.AuthorizationHeader(req.Method, req.URL, s.clock.Now().Unix(), uuid.NewString())
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Authorization", header)
	return nil
}

// AuthorizationHeader computes the TSV1 header value for the given request
// line, timestamp, and nonce. The canonical string hashed is
//
//	path "; " query "; " method "; " headerString
//
// where the path keeps its escaped form, the query is its parameters
// sorted as (key, value) pairs, and headerString names the scheme, the
// public signing key, the timestamp, the nonce, and the client id. The
// BLAKE2b hash of that string is what gets signed, and the signature is
// appended to headerString as the final clause.
func (s *Signer) AuthorizationHeader(method string, u *url.URL, timestamp int64, nonce string) (string, error) {
	query, err := canonicalQuery(u.RawQuery)
	if err != nil {
		return "", trace.Wrap(err)
	}
	headerString := strings.Join([]string{
		AuthenticationMethod,
		s.publicB64,
		strconv.FormatInt(timestamp, 10),
		nonce,
		"uid:" + s.clientID,
	}, "; ")
	stringToHash := strings.Join([]string{u.EscapedPath(), query, method, headerString}, "; ")
	hash := cryptosuites.HashString(stringToHash)
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(s.seed), hash)
	return headerString + "; " + cryptosuites.Base64Encode(sig), nil
}

// PublicSigningKey returns the signer's public key in transport encoding.
func (s *Signer) PublicSigningKey() string {
	return s.publicB64
}

// canonicalQuery renders a raw query as its (key, value) pairs sorted
// lexicographically, blank values preserved, re-encoded with + for spaces.
func canonicalQuery(rawQuery string) (string, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", trace.BadParameter("invalid query string: %v", err)
	}
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(values))
	for k, vs := range values {
		for _, v := range vs {
			pairs = append(pairs, pair{k, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = url.QueryEscape(p.k) + "=" + url.QueryEscape(p.v)
	}
	return strings.Join(encoded, "&"), nil
}

// Transport is an http.RoundTripper that TSV1-signs every outgoing request
// and optionally adds extra headers, such as the identity login token.
type Transport struct {
	// Signer signs each request.
	Signer *Signer
	// Base performs the signed request. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper
	// ExtraHeaders are set verbatim on every request.
	ExtraHeaders map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Per the RoundTripper contract the request must not be mutated.
	signed := req.Clone(req.Context())
	if err := t.Signer.SignRequest(signed); err != nil {
		return nil, trace.Wrap(err)
	}
	for k, v := range t.ExtraHeaders {
		signed.Header.Set(k, v)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(signed)
}
