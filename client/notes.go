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
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/auth"
	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// EncryptNote builds the encrypted, signed wire form of a note. A fresh
// access key is wrapped from the writer to the recipient and carried on
// the note itself; every data field is signed with a per-note salt and
// then encrypted, and the note-level signature publishes that salt in
// signed form so readers can bind every field to it.
func EncryptNote(suite cryptosuites.Suite, data map[string]string, options types.NoteOptions,
	writerEnc types.EncryptionKeyPair, writerSign types.SigningKeyPair,
	recipientEncKey, recipientSignKey string) (*types.Note, error) {
	if len(data) == 0 {
		return nil, trace.BadParameter("note data must not be empty")
	}
	ak, err := suite.RandomKey()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	nonce, err := suite.RandomNonce()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	eak, err := suite.EncryptAccessKey(writerEnc.PrivateKey, recipientEncKey, ak, nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	salt := uuid.NewString()
	signature, err := cryptosuites.SignField(suite, "signature", salt, writerSign.PrivateKey, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	encrypted := make(map[string]string, len(data))
	for name, value := range data {
		signed, err := cryptosuites.SignField(suite, name, value, writerSign.PrivateKey, salt)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		encrypted[name], err = cryptosuites.EncryptField(suite, ak, signed)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return &types.Note{
		Data: encrypted,
		Keys: types.NoteKeys{
			Mode:                suite.Mode().String(),
			RecipientSigningKey: recipientSignKey,
			WriterSigningKey:    writerSign.PublicKey,
			WriterEncryptionKey: writerEnc.PublicKey,
			EncryptedAccessKey:  cryptosuites.EncodeEAK(eak, nonce),
		},
		Options:   options,
		Signature: signature,
	}, nil
}

// DecryptNote unwraps a note's access key with the recipient's private
// key and decrypts the data fields. With verify set, the note-level
// signature must verify under the writer's signing key and every field
// must carry a valid signature bound to the note's salt; without it,
// signature prefixes are stripped when present and nothing is checked.
func DecryptNote(suite cryptosuites.Suite, note *types.Note, recipientPrivateKey string, verify bool) (map[string]string, error) {
	ciphertext, nonce, err := cryptosuites.DecodeEAK(note.Keys.EncryptedAccessKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ak, err := suite.DecryptAccessKey(recipientPrivateKey, note.Keys.WriterEncryptionKey, ciphertext, nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var salt string
	if verify {
		salt, err = cryptosuites.VerifyField(suite, "signature", note.Signature, note.Keys.WriterSigningKey, "")
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	data := make(map[string]string, len(note.Data))
	for name, value := range note.Data {
		signed, err := cryptosuites.DecryptField(suite, ak, value)
		if err != nil {
			return nil, trace.Wrap(err, "decrypting field %q", name)
		}
		if !verify {
			data[name] = cryptosuites.StripSignature(signed)
			continue
		}
		data[name], err = cryptosuites.VerifyField(suite, name, signed, note.Keys.WriterSigningKey, salt)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return data, nil
}

// WriteNote encrypts data for the given recipient keys and stores it as a
// note. Requires a signing keypair in the client config; note requests are
// signed per-request rather than bearer-authenticated. A taken IDString
// fails with an already-exists error.
func (c *Client) WriteNote(ctx context.Context, data map[string]string, recipientEncKey, recipientSignKey string, options types.NoteOptions) (*types.Note, error) {
	clt, err := c.noteClient(nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	options.ClientID = c.cfg.ClientID
	note, err := EncryptNote(c.suite, data, options,
		types.EncryptionKeyPair{PublicKey: c.cfg.PublicKey, PrivateKey: c.cfg.PrivateKey},
		types.SigningKeyPair{PublicKey: c.cfg.PublicSigningKey, PrivateKey: c.cfg.PrivateSigningKey},
		recipientEncKey, recipientSignKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := convertResponse(clt.PostJSON(ctx, clt.Endpoint("v2", "storage", "notes"), note))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var stored types.Note
	if err := unmarshalResponse(re, &stored); err != nil {
		return nil, trace.Wrap(err)
	}
	return &stored, nil
}

// ReadNote fetches a note by server-assigned id and decrypts it with this
// client's encryption key, verifying all signatures. The returned note
// carries plaintext data.
func (c *Client) ReadNote(ctx context.Context, noteID uuid.UUID) (*types.Note, error) {
	return c.readNote(ctx, url.Values{"note_id": []string{noteID.String()}})
}

// ReadNoteByName fetches a note by its writer-chosen name.
func (c *Client) ReadNoteByName(ctx context.Context, idString string) (*types.Note, error) {
	return c.readNote(ctx, url.Values{"id_string": []string{idString}})
}

func (c *Client) readNote(ctx context.Context, query url.Values) (*types.Note, error) {
	clt, err := c.noteClient(nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := convertResponse(clt.Get(ctx, clt.Endpoint("v2", "storage", "notes"), query))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var note types.Note
	if err := unmarshalResponse(re, &note); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := DecryptNote(c.suite, &note, c.cfg.PrivateKey, true)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	note.Data = data
	return &note, nil
}

// DeleteNote removes a note this client wrote.
func (c *Client) DeleteNote(ctx context.Context, noteID uuid.UUID) error {
	clt, err := c.noteClient(nil)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = convertResponse(clt.Delete(ctx, clt.Endpoint("v2", "storage", "notes", noteID.String())))
	return trace.Wrap(err)
}

// noteClient returns a roundtrip client whose requests are TSV1-signed
// with this client's signing key.
func (c *Client) noteClient(extraHeaders map[string]string) (*roundtrip.Client, error) {
	if c.signer == nil {
		return nil, trace.BadParameter("note operations require a signing keypair in the client configuration")
	}
	return newSignedClient(c.cfg.APIURL, c.signer, c.httpClient, extraHeaders)
}

// newSignedClient builds a roundtrip client over a TSV1-signing transport.
func newSignedClient(apiURL string, signer *auth.Signer, base *http.Client, extraHeaders map[string]string) (*roundtrip.Client, error) {
	var baseTransport http.RoundTripper
	var timeout time.Duration
	if base != nil {
		baseTransport = base.Transport
		timeout = base.Timeout
	}
	httpClient := &http.Client{
		Transport: &auth.Transport{Signer: signer, Base: baseTransport, ExtraHeaders: extraHeaders},
		Timeout:   timeout,
	}
	clt, err := roundtrip.NewClient(apiURL, "", roundtrip.HTTPClient(httpClient))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return clt, nil
}

// AnonymousNoteConfig holds explicit key material for reading or writing
// notes without a registered storage client, such as during identity
// login where the credentials themselves live in a note.
type AnonymousNoteConfig struct {
	// APIURL is the service base URL.
	APIURL string
	// EncryptionKeys is the box keypair notes are decrypted with, or
	// encrypted from when writing.
	EncryptionKeys types.EncryptionKeyPair
	// SigningKeys signs the TSV1 requests and, on write, the note fields.
	SigningKeys types.SigningKeyPair
	// Suite is the crypto suite. Defaults to the process-wide selection.
	Suite cryptosuites.Suite
	// HTTPClient is the base HTTP client. Defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Headers are set verbatim on every request, such as
	// X-TOZID-LOGIN-TOKEN during identity login.
	Headers map[string]string
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *AnonymousNoteConfig) CheckAndSetDefaults() error {
	if c.APIURL == "" {
		return trace.BadParameter("missing parameter APIURL")
	}
	if c.SigningKeys.PrivateKey == "" {
		return trace.BadParameter("missing parameter SigningKeys")
	}
	if c.Suite == nil {
		c.Suite = cryptosuites.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return nil
}

func (c *AnonymousNoteConfig) signedClient() (*roundtrip.Client, error) {
	signer, err := auth.NewSigner(c.SigningKeys.PrivateKey, "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return newSignedClient(c.APIURL, signer, c.HTTPClient, c.Headers)
}

// ReadAnonymousNote fetches a note by id with explicit key material and
// decrypts it, verifying all signatures.
func ReadAnonymousNote(ctx context.Context, cfg AnonymousNoteConfig, noteID uuid.UUID) (*types.Note, error) {
	return readAnonymousNote(ctx, cfg, url.Values{"note_id": []string{noteID.String()}})
}

// ReadAnonymousNoteByName fetches a note by its writer-chosen name with
// explicit key material.
func ReadAnonymousNoteByName(ctx context.Context, cfg AnonymousNoteConfig, idString string) (*types.Note, error) {
	return readAnonymousNote(ctx, cfg, url.Values{"id_string": []string{idString}})
}

func readAnonymousNote(ctx context.Context, cfg AnonymousNoteConfig, query url.Values) (*types.Note, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.EncryptionKeys.PrivateKey == "" {
		return nil, trace.BadParameter("missing parameter EncryptionKeys")
	}
	clt, err := cfg.signedClient()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := convertResponse(clt.Get(ctx, clt.Endpoint("v2", "storage", "notes"), query))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var note types.Note
	if err := unmarshalResponse(re, &note); err != nil {
		return nil, trace.Wrap(err)
	}
	data, err := DecryptNote(cfg.Suite, &note, cfg.EncryptionKeys.PrivateKey, true)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	note.Data = data
	return &note, nil
}

// WriteAnonymousNote encrypts data for the recipient keys and stores it as
// a note using explicit key material, for writers that are not registered
// storage clients.
func WriteAnonymousNote(ctx context.Context, cfg AnonymousNoteConfig, data map[string]string, recipientEncKey, recipientSignKey string, options types.NoteOptions) (*types.Note, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.EncryptionKeys.PrivateKey == "" || cfg.EncryptionKeys.PublicKey == "" {
		return nil, trace.BadParameter("missing parameter EncryptionKeys")
	}
	note, err := EncryptNote(cfg.Suite, data, options, cfg.EncryptionKeys, cfg.SigningKeys, recipientEncKey, recipientSignKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	clt, err := cfg.signedClient()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := convertResponse(clt.PostJSON(ctx, clt.Endpoint("v2", "storage", "notes"), note))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var stored types.Note
	if err := unmarshalResponse(re, &stored); err != nil {
		return nil, trace.Wrap(err)
	}
	return &stored, nil
}
