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

package cryptosuites

import (
	"crypto/ed25519"
	"crypto/sha512"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 iteration count shared with every other SDK implementing
// credential derivation. Changing it breaks compatibility with all
// existing derived credentials.
const deriveIterations = 10000

// deriveSeed stretches a password into a 32-byte seed with
// PBKDF2-HMAC-SHA512 over the raw salt string.
func deriveSeed(password, salt string) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), deriveIterations, SymmetricKeySize, sha512.New)
}

// DeriveCryptoKeyPair deterministically derives a Curve25519 box keypair
// from a password and a salt string. The seed expands the way libsodium's
// seeded box keypairs do: the private scalar is the first half of the
// seed's SHA-512 digest.
func DeriveCryptoKeyPair(password, salt string) (KeyPair, error) {
	seed := deriveSeed(password, salt)
	digest := sha512.Sum512(seed)
	priv := digest[:curve25519.ScalarSize]
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, trace.Wrap(err)
	}
	return KeyPair{
		Public:  Base64Encode(pub),
		Private: Base64Encode(priv),
	}, nil
}

// DeriveSigningKeyPair deterministically derives an Ed25519 keypair from a
// password and a salt string. The private half is the 64-byte seed||public
// form.
func DeriveSigningKeyPair(password, salt string) (KeyPair, error) {
	priv := ed25519.NewKeyFromSeed(deriveSeed(password, salt))
	return KeyPair{
		Public:  Base64Encode(priv[ed25519.SeedSize:]),
		Private: Base64Encode(priv),
	}, nil
}
