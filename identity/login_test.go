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

package identity

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/tozstore/e3db-go/auth"
	"github.com/tozstore/e3db-go/client"
	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

const (
	testUsername = "fred"
	testPassword = "correcthorsebatterystaple"
	testRealm    = "IntegrationTest"
)

// identityServer fakes the three PKCE legs and the final note read.
type identityServer struct {
	t    *testing.T
	srv  *httptest.Server
	note *types.Note

	challenge      string
	accessToken    string
	seenPublicKey  string
	seenSigningKey string
}

func newIdentityServer(t *testing.T) *identityServer {
	s := &identityServer{t: t, accessToken: "session-" + uuid.NewString()}

	creds, err := DeriveNoteCredentials(testUsername, testPassword, testRealm)
	require.NoError(t, err)

	// The credential note was written at registration time by the realm
	// broker; any writer keypair will do.
	suite := cryptosuites.Default()
	writerEnc, err := suite.GenerateKeyPair()
	require.NoError(t, err)
	writerSign, err := suite.GenerateSigningKeyPair()
	require.NoError(t, err)
	storage, err := json.Marshal(map[string]any{
		"api_url":     "https://api.e3db.com",
		"client_id":   uuid.NewString(),
		"api_key_id":  "key-id",
		"api_secret":  "key-secret",
		"public_key":  writerEnc.Public,
		"private_key": writerEnc.Private,
	})
	require.NoError(t, err)
	s.note, err = client.EncryptNote(suite,
		map[string]string{"storage": string(storage)},
		types.NoteOptions{IDString: creds.NoteName},
		types.EncryptionKeyPair{PublicKey: writerEnc.Public, PrivateKey: writerEnc.Private},
		types.SigningKeyPair{PublicKey: writerSign.Public, PrivateKey: writerSign.Private},
		creds.EncryptionKeys.PublicKey, creds.SigningKeys.PublicKey)
	require.NoError(t, err)
	s.note.NoteID = uuid.New()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/identity/login", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), auth.AuthenticationMethod))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, testUsername, req["username"])
		require.Equal(t, testRealm, req["realm_name"])
		require.Equal(t, "api", req["login_style"])
		require.Equal(t, "S256", req["challenge_method"])
		s.challenge, _ = req["code_challenge"].(string)
		require.NotEmpty(t, s.challenge)
		json.NewEncoder(w).Encode(map[string]any{
			"type":       "continue",
			"action_url": s.srv.URL + "/auth/execute",
		})
	})
	mux.HandleFunc("POST /auth/execute", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PublicKey        types.PublicKey  `json:"public_key"`
			PublicSigningKey types.SigningKey `json:"public_signing_key"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		s.seenPublicKey = req.PublicKey.Curve25519
		s.seenSigningKey = req.PublicSigningKey.Ed25519
		json.NewEncoder(w).Encode(map[string]any{
			"type": "fetch",
			"context": map[string]string{
				"session_code":    "sess-1",
				"execution":       "exec-1",
				"tab_id":          "tab-1",
				"auth_session_id": "auth-1",
			},
		})
	})
	mux.HandleFunc("POST /v1/identity/tozid/redirect", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, testRealm, req["realm_name"])
		verifier, _ := req["code_verifier"].(string)
		sum := sha256.Sum256([]byte(verifier))
		require.Equal(t, s.challenge, cryptosuites.Base64Encode(sum[:]))
		require.Equal(t, "sess-1", anyString(req["session_code"]))
		json.NewEncoder(w).Encode(map[string]string{"access_token": s.accessToken})
	})
	mux.HandleFunc("GET /v2/storage/notes", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.Header.Get("Authorization"), auth.AuthenticationMethod))
		require.Equal(t, s.accessToken, r.Header.Get("X-Tozid-Login-Token"))
		if r.URL.Query().Get("id_string") != s.note.Options.IDString {
			http.Error(w, `{"error":"no such note"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(s.note)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// anyString renders decoded JSON values that may arrive as raw messages.
func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}

func TestLogin(t *testing.T) {
	s := newIdentityServer(t)

	result, err := Login(context.Background(), LoginConfig{
		APIURL:   s.srv.URL,
		Username: "FRED", // case folds to the derived identity
		Password: testPassword,
		Realm:    testRealm,
	})
	require.NoError(t, err)
	require.Equal(t, s.accessToken, result.AccessToken)
	require.Equal(t, s.note.NoteID, result.Note.NoteID)
	require.Equal(t, result.Credentials.EncryptionKeys.PublicKey, s.seenPublicKey)
	require.Equal(t, result.Credentials.SigningKeys.PublicKey, s.seenSigningKey)

	cfg, err := result.StorageConfig()
	require.NoError(t, err)
	require.Equal(t, "key-id", cfg.APIKeyID)
	require.Equal(t, "key-secret", cfg.APISecret)
	require.Equal(t, "https://api.e3db.com", cfg.APIURL)
	require.NotEmpty(t, cfg.PrivateKey)
}

func TestLoginUnexpectedResponseType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"type": "totp-required"})
	}))
	defer srv.Close()

	_, err := Login(context.Background(), LoginConfig{
		APIURL:   srv.URL,
		Username: "fred",
		Password: "pw",
		Realm:    "Realm",
	})
	require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
	require.Contains(t, err.Error(), "totp-required")
}

func TestLoginWrongPassword(t *testing.T) {
	s := newIdentityServer(t)

	// The PKCE legs succeed for any TSV1 signer, but the note will not
	// decrypt with keys derived from the wrong password.
	_, err := Login(context.Background(), LoginConfig{
		APIURL:   s.srv.URL,
		Username: testUsername,
		Password: "not-the-password",
		Realm:    testRealm,
	})
	require.Error(t, err)
}

func TestLoginConfigValidation(t *testing.T) {
	_, err := Login(context.Background(), LoginConfig{Password: "x", Realm: "y"})
	require.True(t, trace.IsBadParameter(err))
	_, err = Login(context.Background(), LoginConfig{Username: "u", Realm: "y"})
	require.True(t, trace.IsBadParameter(err))
	_, err = Login(context.Background(), LoginConfig{Username: "u", Password: "x"})
	require.True(t, trace.IsBadParameter(err))
}
