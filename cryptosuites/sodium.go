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
	"crypto/rand"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// SymmetricKeySize is the byte length of access keys and data keys.
	SymmetricKeySize = 32

	sodiumNonceSize = 24
	boxKeySize      = 32
)

// sodiumSuite implements Suite with libsodium-compatible primitives:
// Curve25519 authenticated boxes, XSalsa20-Poly1305 secret boxes, and
// Ed25519 signatures, all carried as unpadded Base64URL of raw bytes.
type sodiumSuite struct{}

func (sodiumSuite) Mode() Mode { return ModeSodium }

func (sodiumSuite) GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, trace.Wrap(err)
	}
	return KeyPair{
		Public:  Base64Encode(pub[:]),
		Private: Base64Encode(priv[:]),
	}, nil
}

func (sodiumSuite) GenerateSigningKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, trace.Wrap(err)
	}
	return KeyPair{
		Public:  Base64Encode(pub),
		Private: Base64Encode(priv),
	}, nil
}

func (sodiumSuite) RandomKey() ([]byte, error) {
	return randomBytes(SymmetricKeySize)
}

func (sodiumSuite) RandomNonce() ([]byte, error) {
	return randomBytes(sodiumNonceSize)
}

func (sodiumSuite) EncryptSecret(key, plaintext, nonce []byte) ([]byte, error) {
	k, err := toKey(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	n, err := toNonce(nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return secretbox.Seal(nil, plaintext, n, k), nil
}

func (sodiumSuite) DecryptSecret(key, ciphertext, nonce []byte) ([]byte, error) {
	k, err := toKey(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	n, err := toNonce(nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plaintext, ok := secretbox.Open(nil, ciphertext, n, k)
	if !ok {
		return nil, trace.BadParameter("secret box authentication failed")
	}
	return plaintext, nil
}

func (s sodiumSuite) EncryptAccessKey(privateKey, publicKey string, ak, nonce []byte) ([]byte, error) {
	priv, pub, err := s.decodeBoxKeys(privateKey, publicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	n, err := toNonce(nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return box.Seal(nil, ak, n, pub, priv), nil
}

func (s sodiumSuite) DecryptAccessKey(privateKey, publicKey string, ciphertext, nonce []byte) ([]byte, error) {
	priv, pub, err := s.decodeBoxKeys(privateKey, publicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	n, err := toNonce(nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ak, ok := box.Open(nil, ciphertext, n, pub, priv)
	if !ok {
		return nil, trace.BadParameter("access key authentication failed")
	}
	return ak, nil
}

func (s sodiumSuite) Sign(message []byte, privateKey string) ([]byte, error) {
	raw, err := Base64Decode(privateKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// Accept both the 64-byte seed||public form and the bare seed.
	switch len(raw) {
	case ed25519.PrivateKeySize, ed25519.SeedSize:
	default:
		return nil, trace.BadParameter("signing key must be %d or %d bytes, got %d",
			ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}
	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	return ed25519.Sign(key, message), nil
}

func (s sodiumSuite) Verify(signature, message []byte, publicKey string) error {
	raw, err := Base64Decode(publicKey)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return trace.BadParameter("verify key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	if !ed25519.Verify(ed25519.PublicKey(raw), message, signature) {
		return trace.BadParameter("signature verification failed")
	}
	return nil
}

func (sodiumSuite) EncodePublicKey(raw []byte) string  { return Base64Encode(raw) }
func (sodiumSuite) EncodePrivateKey(raw []byte) string { return Base64Encode(raw) }

func (sodiumSuite) DecodePublicKey(key string) ([]byte, error) {
	raw, err := Base64Decode(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(raw) != boxKeySize {
		return nil, trace.BadParameter("public key must be %d bytes, got %d", boxKeySize, len(raw))
	}
	return raw, nil
}

func (sodiumSuite) DecodePrivateKey(key string) ([]byte, error) {
	raw, err := Base64Decode(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(raw) != boxKeySize {
		return nil, trace.BadParameter("private key must be %d bytes, got %d", boxKeySize, len(raw))
	}
	return raw, nil
}

func (s sodiumSuite) decodeBoxKeys(privateKey, publicKey string) (*[32]byte, *[32]byte, error) {
	privRaw, err := s.DecodePrivateKey(privateKey)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	pubRaw, err := s.DecodePublicKey(publicKey)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	var priv, pub [32]byte
	copy(priv[:], privRaw)
	copy(pub[:], pubRaw)
	return &priv, &pub, nil
}

func toKey(b []byte) (*[32]byte, error) {
	if len(b) != SymmetricKeySize {
		return nil, trace.BadParameter("symmetric key must be %d bytes, got %d", SymmetricKeySize, len(b))
	}
	var k [32]byte
	copy(k[:], b)
	return &k, nil
}

func toNonce(b []byte) (*[24]byte, error) {
	if len(b) != sodiumNonceSize {
		return nil, trace.BadParameter("nonce must be %d bytes, got %d", sodiumNonceSize, len(b))
	}
	var n [24]byte
	copy(n[:], b)
	return &n, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, trace.Wrap(err)
	}
	return b, nil
}
