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

// Package identity bootstraps a storage client for a human user. A user's
// credentials live in a note whose name and keys are derived
// deterministically from (username, password, realm); logging in means
// re-deriving those, proving possession through a PKCE exchange, and
// reading the note.
package identity

import (
	"strings"

	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// NoteCredentials is everything needed to address and open a user's
// credential note. All of it re-derives from the user's secret; nothing
// here needs to be stored.
type NoteCredentials struct {
	// NoteName addresses the credential note, as its id_string.
	NoteName string
	// EncryptionKeys decrypt the note.
	EncryptionKeys types.EncryptionKeyPair
	// SigningKeys sign the TSV1 requests of the login flow.
	SigningKeys types.SigningKeyPair
}

// DeriveNoteCredentials deterministically derives a user's note name and
// keypairs. The name seed is lowercase(username) + "@realm:" + realm; the
// note name is its hash, the encryption keypair stretches the password
// against the name seed, and the signing keypair stretches it again
// against the encryption keys themselves. Pure: same inputs, same output,
// on every client implementation.
func DeriveNoteCredentials(username, password, realm string) (*NoteCredentials, error) {
	if username == "" {
		return nil, trace.BadParameter("missing parameter username")
	}
	if realm == "" {
		return nil, trace.BadParameter("missing parameter realm")
	}
	nameSeed := strings.ToLower(username) + "@realm:" + realm
	enc, err := cryptosuites.DeriveCryptoKeyPair(password, nameSeed)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sign, err := cryptosuites.DeriveSigningKeyPair(password, enc.Public+enc.Private)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &NoteCredentials{
		NoteName:       cryptosuites.Base64Encode(cryptosuites.HashString(nameSeed)),
		EncryptionKeys: types.EncryptionKeyPair{PublicKey: enc.Public, PrivateKey: enc.Private},
		SigningKeys:    types.SigningKeyPair{PublicKey: sign.Public, PrivateKey: sign.Private},
	}, nil
}
