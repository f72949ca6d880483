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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, expiresAt time.Time, requests *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/auth/token", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key-id", user)
		require.Equal(t, "key-secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		*requests++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("token-%d", *requests),
			"expires_at":   expiresAt.Format(time.RFC3339),
		})
	}))
}

func TestTokenSourceCachesUntilExpiry(t *testing.T) {
	var requests int
	srv := newTokenServer(t, time.Now().Add(time.Hour), &requests)
	defer srv.Close()

	src, err := NewTokenSource(TokenSourceConfig{
		APIURL:    srv.URL,
		APIKeyID:  "key-id",
		APISecret: "key-secret",
	})
	require.NoError(t, err)

	tok1, err := src.Token()
	require.NoError(t, err)
	tok2, err := src.Token()
	require.NoError(t, err)
	require.Equal(t, tok1.AccessToken, tok2.AccessToken)
	require.Equal(t, 1, requests)
}

func TestTokenSourceRefreshesExpiredToken(t *testing.T) {
	var requests int
	// Tokens come back already expired, so every Token call refetches.
	srv := newTokenServer(t, time.Now().Add(-time.Minute), &requests)
	defer srv.Close()

	src, err := NewTokenSource(TokenSourceConfig{
		APIURL:    srv.URL,
		APIKeyID:  "key-id",
		APISecret: "key-secret",
	})
	require.NoError(t, err)

	tok1, err := src.Token()
	require.NoError(t, err)
	tok2, err := src.Token()
	require.NoError(t, err)
	require.NotEqual(t, tok1.AccessToken, tok2.AccessToken)
	require.Equal(t, 2, requests)
}

func TestTokenSourceUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid client credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	src, err := NewTokenSource(TokenSourceConfig{
		APIURL:    srv.URL,
		APIKeyID:  "key-id",
		APISecret: "wrong",
	})
	require.NoError(t, err)

	_, err = src.Token()
	require.Error(t, err)
	require.True(t, trace.IsAccessDenied(err), "expected AccessDenied, got %v", err)
}

func TestTokenSourceFallsBackToJWTExpiry(t *testing.T) {
	claims, err := json.Marshal(map[string]any{"exp": time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	jwt := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`)) +
		"." + base64.RawURLEncoding.EncodeToString(claims) + "."

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": jwt})
	}))
	defer srv.Close()

	src, err := NewTokenSource(TokenSourceConfig{
		APIURL:    srv.URL,
		APIKeyID:  "key-id",
		APISecret: "key-secret",
	})
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestReadErrorMapping(t *testing.T) {
	require.NoError(t, ReadError(http.StatusOK, nil))
	require.True(t, trace.IsAccessDenied(ReadError(http.StatusUnauthorized, []byte(`{"error":"bad credentials"}`))))
	require.True(t, trace.IsAccessDenied(ReadError(http.StatusForbidden, []byte("denied"))))
	require.True(t, trace.IsNotFound(ReadError(http.StatusNotFound, []byte("missing"))))
	require.True(t, trace.IsAlreadyExists(ReadError(http.StatusConflict, []byte("conflict"))))
}

func TestTokenSourceConfigValidation(t *testing.T) {
	_, err := NewTokenSource(TokenSourceConfig{APIKeyID: "a", APISecret: "b"})
	require.Error(t, err)
	_, err = NewTokenSource(TokenSourceConfig{APIURL: "http://x", APISecret: "b"})
	require.Error(t, err)
	_, err = NewTokenSource(TokenSourceConfig{APIURL: "http://x", APIKeyID: "a"})
	require.Error(t, err)
}
