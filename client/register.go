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

package client

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	e3db "github.com/tozstore/e3db-go"
	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// BackupRecordType is the record type credential backups are written
// under. The account service looks for it when recovering a client.
const BackupRecordType = "tozny.key_backup"

// RegisterParams describe a new client to register against an account's
// registration token. Registration is the one unauthenticated call in the
// API; the response carries the API credentials everything else uses.
type RegisterParams struct {
	// APIURL is the service base URL. Defaults to the production endpoint.
	APIURL string
	// RegistrationToken is the account's registration token.
	RegistrationToken string
	// ClientName labels the client within the account.
	ClientName string
	// PublicKey is the client's box public key in transport encoding.
	PublicKey string
	// PublicSigningKey optionally registers an Ed25519 public key for
	// note and TSV1 use.
	PublicSigningKey string
	// Suite determines the key label the public key registers under.
	// Defaults to the process-wide selection.
	Suite cryptosuites.Suite
	// HTTPClient performs the request. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// CheckAndSetDefaults validates the params and fills in defaults.
func (p *RegisterParams) CheckAndSetDefaults() error {
	if p.RegistrationToken == "" {
		return trace.BadParameter("missing parameter RegistrationToken")
	}
	if p.ClientName == "" {
		return trace.BadParameter("missing parameter ClientName")
	}
	if p.PublicKey == "" {
		return trace.BadParameter("missing parameter PublicKey")
	}
	if p.APIURL == "" {
		p.APIURL = e3db.DefaultAPIURL
	}
	if p.Suite == nil {
		p.Suite = cryptosuites.Default()
	}
	if p.HTTPClient == nil {
		p.HTTPClient = http.DefaultClient
	}
	return nil
}

type registrationRequest struct {
	Token  string             `json:"token"`
	Client clientRegistration `json:"client"`
}

type clientRegistration struct {
	Name       string            `json:"name"`
	PublicKey  types.PublicKey   `json:"public_key"`
	SigningKey *types.SigningKey `json:"signing_key,omitempty"`
}

// Register creates a new client under an account. It returns the full
// registration details, including the API credentials, plus the account's
// backup client id from the X-Backup-Client response header, which Backup
// shares credential records with.
func Register(ctx context.Context, params RegisterParams) (*types.ClientDetails, uuid.UUID, error) {
	if err := params.CheckAndSetDefaults(); err != nil {
		return nil, uuid.Nil, trace.Wrap(err)
	}
	var pub types.PublicKey
	switch params.Suite.Mode().KeyLabel() {
	case "p384":
		pub.P384 = params.PublicKey
	default:
		pub.Curve25519 = params.PublicKey
	}
	req := registrationRequest{
		Token: params.RegistrationToken,
		Client: clientRegistration{
			Name:      params.ClientName,
			PublicKey: pub,
		},
	}
	if params.PublicSigningKey != "" {
		req.Client.SigningKey = &types.SigningKey{Ed25519: params.PublicSigningKey}
	}

	clt, err := roundtrip.NewClient(params.APIURL, "", roundtrip.HTTPClient(params.HTTPClient))
	if err != nil {
		return nil, uuid.Nil, trace.Wrap(err)
	}
	re, err := convertResponse(clt.PostJSON(ctx, clt.Endpoint(
		"v1", "account", "e3db", "clients", "register"), req))
	if err != nil {
		return nil, uuid.Nil, trace.Wrap(err)
	}
	var details types.ClientDetails
	if err := unmarshalResponse(re, &details); err != nil {
		return nil, uuid.Nil, trace.Wrap(err)
	}
	backupClientID := uuid.Nil
	if raw := re.Headers().Get("X-Backup-Client"); raw != "" {
		backupClientID, err = uuid.Parse(raw)
		if err != nil {
			return nil, uuid.Nil, trace.BadParameter("malformed X-Backup-Client header %q", raw)
		}
	}
	return &details, backupClientID, nil
}

// Backup writes this client's credentials as an encrypted backup record,
// shares it with the account's backup client, and notifies the account
// service. Field values are JSON-quoted so the recovery tooling can parse
// them uniformly.
func (c *Client) Backup(ctx context.Context, registrationToken string, backupClientID uuid.UUID) error {
	if backupClientID == uuid.Nil {
		return trace.BadParameter("missing parameter backupClientID")
	}
	data := map[string]string{
		"version":      strconv.Quote("1"),
		"client_id":    strconv.Quote(c.cfg.ClientID.String()),
		"api_key_id":   strconv.Quote(c.cfg.APIKeyID),
		"api_secret":   strconv.Quote(c.cfg.APISecret),
		"client_email": strconv.Quote(c.cfg.ClientEmail),
		"public_key":   strconv.Quote(c.cfg.PublicKey),
		"private_key":  strconv.Quote(c.cfg.PrivateKey),
		"api_url":      strconv.Quote(c.cfg.APIURL),
	}
	plain := map[string]string{"client": c.cfg.ClientID.String()}
	if _, err := c.Write(ctx, BackupRecordType, data, plain); err != nil {
		return trace.Wrap(err)
	}
	if err := c.Share(ctx, BackupRecordType, backupClientID); err != nil {
		return trace.Wrap(err)
	}
	c.log.DebugContext(ctx, "backed up client credentials", "backup_client_id", backupClientID)
	_, err := convertResponse(c.clt.PostJSON(ctx, c.clt.Endpoint(
		"v1", "account", "backup", registrationToken, c.cfg.ClientID.String()), struct{}{}))
	return trace.Wrap(err)
}
