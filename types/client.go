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

package types

import (
	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// PublicKey carries a box public key under the JSON label of the suite that
// produced it: "curve25519" for the sodium suite, "p384" for the NIST
// suite. Exactly one label is set; a reader running the other suite will
// find its label empty and can fail fast instead of attempting a doomed
// key exchange.
type PublicKey struct {
	Curve25519 string `json:"curve25519,omitempty"`
	P384       string `json:"p384,omitempty"`
}

// KeyForLabel returns the key stored under the given suite label.
func (p PublicKey) KeyForLabel(label string) (string, error) {
	switch label {
	case "curve25519":
		if p.Curve25519 == "" {
			return "", trace.BadParameter("public key block carries no curve25519 key; the peer may be running a different crypto suite")
		}
		return p.Curve25519, nil
	case "p384":
		if p.P384 == "" {
			return "", trace.BadParameter("public key block carries no p384 key; the peer may be running a different crypto suite")
		}
		return p.P384, nil
	}
	return "", trace.BadParameter("unsupported public key label %q", label)
}

// SigningKey carries an Ed25519 public signing key.
type SigningKey struct {
	Ed25519 string `json:"ed25519,omitempty"`
}

// ClientInfo is the public face of a registered client, as served by
// GET /v1/storage/clients/{id}.
type ClientInfo struct {
	ClientID  uuid.UUID `json:"client_id"`
	PublicKey PublicKey `json:"public_key"`
	Validated bool      `json:"validated"`
}

// ClientDetails is the full registration result: API credentials, the
// server-assigned client id, and the keys the server recorded.
type ClientDetails struct {
	ClientID   uuid.UUID  `json:"client_id"`
	APIKeyID   string     `json:"api_key_id"`
	APISecret  string     `json:"api_secret"`
	PublicKey  PublicKey  `json:"public_key"`
	SigningKey SigningKey `json:"signing_key,omitempty"`
	Name       string     `json:"name"`
}

// EncryptionKeyPair holds both halves of a box keypair in transport
// encoding. The private half never leaves the client.
type EncryptionKeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// SigningKeyPair holds both halves of an Ed25519 keypair in transport
// encoding. The private half is the 64-byte seed-plus-public form.
type SigningKeyPair struct {
	PublicKey  string `json:"public_signing_key"`
	PrivateKey string `json:"private_signing_key"`
}

// EAKBlock is the server's representation of one encrypted access key: the
// two-segment eak envelope plus the public key of the party that wrapped
// it, which the reader needs to unwrap.
type EAKBlock struct {
	EAK                 string    `json:"eak"`
	AuthorizerID        uuid.UUID `json:"authorizer_id,omitempty"`
	AuthorizerPublicKey PublicKey `json:"authorizer_public_key"`
	SignerID            uuid.UUID `json:"signer_id,omitempty"`
}
