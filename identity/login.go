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
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	e3db "github.com/tozstore/e3db-go"
	"github.com/tozstore/e3db-go/auth"
	"github.com/tozstore/e3db-go/client"
	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// LoginConfig names the user logging in and where.
type LoginConfig struct {
	// APIURL is the service base URL. Defaults to the production endpoint.
	APIURL string
	// Username and Password are the user's credentials within Realm.
	Username string
	Password string
	Realm    string
	// AppName is the OIDC application the session is opened for.
	// Defaults to "account".
	AppName string
	// RedirectURL is the registered redirect of the application. Defaults
	// to the APIURL.
	RedirectURL string
	// Suite is the crypto suite. Defaults to the process-wide selection;
	// only the sodium suite supports identity login.
	Suite cryptosuites.Suite
	// HTTPClient is the base HTTP client. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Log emits debug diagnostics. Defaults to slog.Default.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *LoginConfig) CheckAndSetDefaults() error {
	if c.Username == "" {
		return trace.BadParameter("missing parameter Username")
	}
	if c.Password == "" {
		return trace.BadParameter("missing parameter Password")
	}
	if c.Realm == "" {
		return trace.BadParameter("missing parameter Realm")
	}
	if c.APIURL == "" {
		c.APIURL = e3db.DefaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.AppName == "" {
		c.AppName = "account"
	}
	if c.RedirectURL == "" {
		c.RedirectURL = c.APIURL
	}
	if c.Suite == nil {
		c.Suite = cryptosuites.Default()
	}
	if c.Suite.Mode() != cryptosuites.ModeSodium {
		return trace.NotImplemented("identity login is only supported by the sodium suite")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Log == nil {
		c.Log = slog.Default().With(e3db.Component, e3db.ComponentIdentity)
	}
	return nil
}

// LoginResult is a completed login: the session token, the decrypted
// credential note, and the derived key material used to open it.
type LoginResult struct {
	// AccessToken is the realm session token.
	AccessToken string
	// Note is the credential note with plaintext data.
	Note *types.Note
	// Credentials are the derived note credentials, kept so callers can
	// re-read or rotate the note without re-deriving.
	Credentials *NoteCredentials
}

// StorageConfig parses the credential note's "storage" field into a
// storage client configuration.
func (r *LoginResult) StorageConfig() (*client.Config, error) {
	raw, ok := r.Note.Data["storage"]
	if !ok {
		return nil, trace.NotFound("credential note carries no storage configuration")
	}
	var doc struct {
		APIURL            string    `json:"api_url"`
		ClientID          uuid.UUID `json:"client_id"`
		ClientEmail       string    `json:"client_email"`
		APIKeyID          string    `json:"api_key_id"`
		APISecret         string    `json:"api_secret"`
		PublicKey         string    `json:"public_key"`
		PrivateKey        string    `json:"private_key"`
		PublicSigningKey  string    `json:"public_signing_key"`
		PrivateSigningKey string    `json:"private_signing_key"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, trace.Wrap(err, "parsing storage configuration")
	}
	return &client.Config{
		ClientID:          doc.ClientID,
		ClientEmail:       doc.ClientEmail,
		APIKeyID:          doc.APIKeyID,
		APISecret:         doc.APISecret,
		PublicKey:         doc.PublicKey,
		PrivateKey:        doc.PrivateKey,
		PublicSigningKey:  doc.PublicSigningKey,
		PrivateSigningKey: doc.PrivateSigningKey,
		APIURL:            doc.APIURL,
	}, nil
}

// loginAction is the server's answer to each leg of the PKCE exchange.
// Type drives the flow; anything unexpected aborts it.
type loginAction struct {
	Type      string                     `json:"type"`
	ActionURL string                     `json:"action_url"`
	Fields    map[string]string          `json:"fields"`
	Context   map[string]json.RawMessage `json:"context"`
}

// Login runs the PKCE exchange and fetches the user's credential note.
//
// The flow proves two things at once: knowledge of the password, because
// every request is TSV1-signed with keys only the password derives, and
// liveness, because the PKCE verifier binds the final token redemption to
// this session. The access token is then spent on a single anonymous note
// read.
func Login(ctx context.Context, cfg LoginConfig) (*LoginResult, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	creds, err := DeriveNoteCredentials(cfg.Username, cfg.Password, cfg.Realm)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	signer, err := auth.NewSigner(creds.SigningKeys.PrivateKey, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	httpClient := &http.Client{
		Transport: &auth.Transport{Signer: signer, Base: cfg.HTTPClient.Transport},
		Timeout:   cfg.HTTPClient.Timeout,
	}
	verifier, challenge, err := generateCodeChallenge()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// Leg 1: open the session with the code challenge.
	cfg.Log.DebugContext(ctx, "starting identity login", "realm", cfg.Realm, "app", cfg.AppName)
	var challengeResp loginAction
	err = postJSON(ctx, httpClient, cfg.APIURL+"/v1/identity/login", map[string]any{
		"username":         strings.ToLower(cfg.Username),
		"realm_name":       cfg.Realm,
		"app_name":         cfg.AppName,
		"login_style":      "api",
		"redirect_url":     cfg.RedirectURL,
		"code_challenge":   challenge,
		"challenge_method": "S256",
	}, &challengeResp)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if challengeResp.Type != "continue" {
		return nil, trace.BadParameter("identity login: expected a continue response, got %q", challengeResp.Type)
	}

	// Leg 2: present the derived public keys.
	var fetchResp loginAction
	err = postJSON(ctx, httpClient, challengeResp.ActionURL, map[string]any{
		"public_key":         types.PublicKey{Curve25519: creds.EncryptionKeys.PublicKey},
		"public_signing_key": types.SigningKey{Ed25519: creds.SigningKeys.PublicKey},
	}, &fetchResp)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if fetchResp.Type != "fetch" {
		return nil, trace.BadParameter("identity login: expected a fetch response, got %q", fetchResp.Type)
	}

	// Leg 3: redeem the session context with the verifier.
	redeem := make(map[string]any, len(fetchResp.Context)+2)
	for k, v := range fetchResp.Context {
		redeem[k] = v
	}
	redeem["realm_name"] = cfg.Realm
	redeem["code_verifier"] = verifier
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	err = postJSON(ctx, httpClient, cfg.APIURL+"/v1/identity/tozid/redirect", redeem, &tokenResp)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if tokenResp.AccessToken == "" {
		return nil, trace.BadParameter("identity login: token redemption returned no access token")
	}

	note, err := client.ReadAnonymousNoteByName(ctx, client.AnonymousNoteConfig{
		APIURL:         cfg.APIURL,
		EncryptionKeys: creds.EncryptionKeys,
		SigningKeys:    creds.SigningKeys,
		Suite:          cfg.Suite,
		HTTPClient:     cfg.HTTPClient,
		Headers:        map[string]string{"X-TOZID-LOGIN-TOKEN": tokenResp.AccessToken},
	}, creds.NoteName)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &LoginResult{
		AccessToken: tokenResp.AccessToken,
		Note:        note,
		Credentials: creds,
	}, nil
}

// generateCodeVerifier returns a fresh PKCE verifier.
func generateCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", trace.Wrap(err)
	}
	return cryptosuites.Base64Encode(raw), nil
}

func generateCodeChallenge() (verifier, challenge string, err error) {
	verifier, err = generateCodeVerifier()
	if err != nil {
		return "", "", trace.Wrap(err)
	}
	sum := sha256.Sum256([]byte(verifier))
	return verifier, cryptosuites.Base64Encode(sum[:]), nil
}

// postJSON posts a JSON body through the TSV1-signing client and decodes
// the JSON response, mapping HTTP errors to trace kinds.
func postJSON(ctx context.Context, clt *http.Client, url string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return trace.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := clt.Do(req)
	if err != nil {
		return trace.Wrap(err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := auth.ReadError(resp.StatusCode, respBody); err != nil {
		return trace.Wrap(err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return trace.Wrap(err, "parsing server response")
	}
	return nil
}
