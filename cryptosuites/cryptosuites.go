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

// Package cryptosuites implements the cryptographic primitives the TozStore
// SDK is polymorphic over: keypair generation, public-key authenticated
// boxes, symmetric secret boxes, signing, hashing, and the dotted-segment
// wire envelopes built on top of them.
//
// Two suites satisfy the same contract. The sodium suite uses Curve25519
// boxes, XSalsa20-Poly1305 secret boxes, and Ed25519 signatures. The NIST
// suite uses P-384 ECDH with HKDF-SHA-384 key agreement and AES-GCM-256.
// The envelope formats are identical across suites; only the primitives and
// key encodings differ, so both sides of an exchange must run the same
// suite. Selection happens once per process, from the CRYPTO_SUITE
// environment variable.
package cryptosuites

import (
	"os"
	"sync"

	"github.com/gravitational/trace"

	e3db "github.com/tozstore/e3db-go"
)

// Mode identifies a crypto suite.
type Mode int

const (
	// ModeSodium is the default suite: Curve25519, XSalsa20-Poly1305, Ed25519.
	ModeSodium Mode = iota
	// ModeNIST is the alternative suite: P-384, AES-GCM-256.
	ModeNIST
)

// String returns the wire name of the mode, as carried in note key blocks
// and registration documents.
func (m Mode) String() string {
	switch m {
	case ModeSodium:
		return "sodium"
	case ModeNIST:
		return "nist"
	}
	return "unknown"
}

// KeyLabel returns the JSON label under which public keys of this mode are
// transported. Readers use the label to detect a suite mismatch and fail
// fast instead of producing garbage plaintext.
func (m Mode) KeyLabel() string {
	switch m {
	case ModeSodium:
		return "curve25519"
	case ModeNIST:
		return "p384"
	}
	return "unknown"
}

// KeyPair holds the two halves of an encryption or signing keypair in their
// transport encoding (unpadded Base64URL; the NIST suite encodes PEM text).
type KeyPair struct {
	Public  string
	Private string
}

// Suite is the capability set shared by both crypto suites. Keys cross the
// interface in their transport encoding; bulk data as raw bytes.
type Suite interface {
	// Mode reports which suite this is.
	Mode() Mode

	// GenerateKeyPair returns a fresh keypair for use with the
	// authenticated box operations.
	GenerateKeyPair() (KeyPair, error)

	// GenerateSigningKeyPair returns a fresh Ed25519 keypair. Only the
	// sodium suite implements it; the NIST suite returns a NotImplemented
	// error.
	GenerateSigningKeyPair() (KeyPair, error)

	// RandomKey returns 32 random bytes suitable as an access key or a
	// per-field data key.
	RandomKey() ([]byte, error)

	// RandomNonce returns a fresh random nonce of the suite's natural
	// length (24 bytes for XSalsa20, 12 for AES-GCM).
	RandomNonce() ([]byte, error)

	// EncryptSecret symmetrically encrypts plaintext under key with the
	// given nonce, returning ciphertext (MAC included, nonce excluded).
	EncryptSecret(key, plaintext, nonce []byte) ([]byte, error)

	// DecryptSecret reverses EncryptSecret.
	DecryptSecret(key, ciphertext, nonce []byte) ([]byte, error)

	// EncryptAccessKey seals ak from the holder of privateKey to the
	// holder of publicKey with public-key authenticated encryption.
	EncryptAccessKey(privateKey, publicKey string, ak, nonce []byte) ([]byte, error)

	// DecryptAccessKey reverses EncryptAccessKey using the reader's
	// private key and the granter's public key.
	DecryptAccessKey(privateKey, publicKey string, ciphertext, nonce []byte) ([]byte, error)

	// Sign produces an Ed25519 signature over message. The private key may
	// be the 64-byte seed||public form or the bare 32-byte seed. Sodium
	// suite only.
	Sign(message []byte, privateKey string) ([]byte, error)

	// Verify checks an Ed25519 signature over message. Sodium suite only.
	Verify(signature, message []byte, publicKey string) error

	// EncodePublicKey and EncodePrivateKey wrap raw key material (raw
	// bytes for sodium, PEM text for NIST) in the transport encoding.
	EncodePublicKey(raw []byte) string
	EncodePrivateKey(raw []byte) string

	// DecodePublicKey and DecodePrivateKey reverse the transport encoding
	// and validate that the result is a usable key for this suite.
	DecodePublicKey(key string) ([]byte, error)
	DecodePrivateKey(key string) ([]byte, error)
}

// ForMode returns the suite implementing the given mode.
func ForMode(m Mode) (Suite, error) {
	switch m {
	case ModeSodium:
		return sodiumSuite{}, nil
	case ModeNIST:
		return nistSuite{}, nil
	}
	return nil, trace.BadParameter("unsupported crypto suite mode %v", int(m))
}

// ForModeName returns the suite whose Mode().String() matches name, as
// found in note key blocks ("Sodium" and "sodium" both select the sodium
// suite).
func ForModeName(name string) (Suite, error) {
	switch name {
	case "sodium", "Sodium":
		return sodiumSuite{}, nil
	case "nist", "Nist", "NIST":
		return nistSuite{}, nil
	}
	return nil, trace.BadParameter("unsupported crypto suite %q", name)
}

var defaultSuite = sync.OnceValue(func() Suite {
	if os.Getenv(e3db.EnvCryptoSuite) == e3db.CryptoSuiteNIST {
		return nistSuite{}
	}
	return sodiumSuite{}
})

// Default returns the process-wide suite selected by the CRYPTO_SUITE
// environment variable at first use. Every component of the SDK must use
// the same suite or key exchanges will fail.
func Default() Suite {
	return defaultSuite()
}
