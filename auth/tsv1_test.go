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
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tozstore/e3db-go/cryptosuites"
)

// Fixture shared with every other SDK implementing TSV1.
const (
	fixturePrivateSigningKey = "d55u6bLR9tkMVA4OwYIPepOOeXVSHHEit8VoXGRMQiaf5wKRk9gooP9pN3LBJ28BIW9fZ9-ZZPLVsHtuPqkRSQ"
	fixturePublicSigningKey  = "n-cCkZPYKKD_aTdywSdvASFvX2ffmWTy1bB7bj6pEUk"
	fixtureClientID          = "0e8eb8c6-839f-46ca-9843-801c539e490f"
	fixtureTimestamp         = 1000000000
	fixtureNonce             = "59a7d5b6-35d2-41fd-99b2-066a07bd1632"
)

func TestSignerKnownAnswer(t *testing.T) {
	signer, err := NewSigner(fixturePrivateSigningKey, fixtureClientID)
	require.NoError(t, err)
	require.Equal(t, fixturePublicSigningKey, signer.PublicSigningKey())

	u, err := url.Parse("https://api.e3db.com/x/y%2Fz?bar=baz&foo=quux")
	require.NoError(t, err)

	headerString := strings.Join([]string{
		AuthenticationMethod,
		fixturePublicSigningKey,
		"1000000000",
		fixtureNonce,
		"uid:" + fixtureClientID,
	}, "; ")
	stringToHash := strings.Join([]string{"/x/y%2Fz", "bar=baz&foo=quux", "POST", headerString}, "; ")
	require.Equal(t,
		"8e480794b093521ce2a1fa7e6f7afa394ff38b23869389f3165cdb15bfebfdc7",
		hex.EncodeToString(cryptosuites.HashString(stringToHash)))

	header, err := signer.AuthorizationHeader(http.MethodPost, u, fixtureTimestamp, fixtureNonce)
	require.NoError(t, err)
	require.Equal(t,
		headerString+"; Gz2ONHJF6kcUX-2yZdveMuSShDf709wciDhbifNBQeAaGqqMW7B6DbQYlZ7KykvIX1DHZ7tolTH6u-gXq_n5CQ",
		header)
}

func TestSignerAcceptsBareSeed(t *testing.T) {
	raw, err := cryptosuites.Base64Decode(fixturePrivateSigningKey)
	require.NoError(t, err)
	signer, err := NewSigner(cryptosuites.Base64Encode(raw[:32]), fixtureClientID)
	require.NoError(t, err)
	require.Equal(t, fixturePublicSigningKey, signer.PublicSigningKey())
}

func TestSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("dG9vLXNob3J0", fixtureClientID)
	require.Error(t, err)
}

func TestCanonicalQuery(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "sorted by key", in: "foo=quux&bar=baz", want: "bar=baz&foo=quux"},
		{name: "blank values preserved", in: "b=&a=1", want: "a=1&b="},
		{name: "repeated keys sorted by value", in: "k=2&k=1", want: "k=1&k=2"},
		{name: "spaces encode as plus", in: "q=hello world", want: "q=hello+world"},
		{name: "empty query", in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonicalQuery(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTransportSignsWithoutMutatingRequest(t *testing.T) {
	var sawAuth, sawExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		sawExtra = r.Header.Get("X-Tozid-Login-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	signer, err := NewSigner(fixturePrivateSigningKey, fixtureClientID)
	require.NoError(t, err)
	client := &http.Client{Transport: &Transport{
		Signer:       signer,
		ExtraHeaders: map[string]string{"X-TOZID-LOGIN-TOKEN": "token-123"},
	}}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v2/storage/notes?id_string=abc", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.True(t, strings.HasPrefix(sawAuth, AuthenticationMethod+"; "))
	require.Contains(t, sawAuth, "uid:"+fixtureClientID)
	require.Equal(t, "token-123", sawExtra)
	require.Empty(t, req.Header.Get("Authorization"))
}
