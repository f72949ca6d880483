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
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"io"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/hkdf"
)

const nistNonceSize = 12

// nistSuite implements Suite with NIST-approved primitives: P-384 ECDH with
// HKDF-SHA-384 key agreement for the authenticated box and AES-GCM-256 for
// the secret box. Keys are transported as Base64URL of PEM-encoded
// SubjectPublicKeyInfo / PKCS#8 documents.
type nistSuite struct{}

func (nistSuite) Mode() Mode { return ModeNIST }

func (s nistSuite) GenerateKeyPair() (KeyPair, error) {
	priv, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, trace.Wrap(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(priv.PublicKey())
	if err != nil {
		return KeyPair{}, trace.Wrap(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return KeyPair{}, trace.Wrap(err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	return KeyPair{
		Public:  Base64Encode(pubPEM),
		Private: Base64Encode(privPEM),
	}, nil
}

func (nistSuite) GenerateSigningKeyPair() (KeyPair, error) {
	return KeyPair{}, trace.NotImplemented("the NIST suite does not provide signing keypairs")
}

func (nistSuite) RandomKey() ([]byte, error) {
	return randomBytes(SymmetricKeySize)
}

func (nistSuite) RandomNonce() ([]byte, error) {
	return randomBytes(nistNonceSize)
}

func (nistSuite) EncryptSecret(key, plaintext, nonce []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(nonce) != nistNonceSize {
		return nil, trace.BadParameter("nonce must be %d bytes, got %d", nistNonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (nistSuite) DecryptSecret(key, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(nonce) != nistNonceSize {
		return nil, trace.BadParameter("nonce must be %d bytes, got %d", nistNonceSize, len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, trace.BadParameter("secret box authentication failed")
	}
	return plaintext, nil
}

func (s nistSuite) EncryptAccessKey(privateKey, publicKey string, ak, nonce []byte) ([]byte, error) {
	aead, err := s.exchange(privateKey, publicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(nonce) != nistNonceSize {
		return nil, trace.BadParameter("nonce must be %d bytes, got %d", nistNonceSize, len(nonce))
	}
	return aead.Seal(nil, nonce, ak, nil), nil
}

func (s nistSuite) DecryptAccessKey(privateKey, publicKey string, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := s.exchange(privateKey, publicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(nonce) != nistNonceSize {
		return nil, trace.BadParameter("nonce must be %d bytes, got %d", nistNonceSize, len(nonce))
	}
	ak, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, trace.BadParameter("access key authentication failed")
	}
	return ak, nil
}

// exchange derives the AES-GCM key shared between the two parties:
// ECDH(P-384) then HKDF-SHA-384 with neither salt nor info, truncated to
// 256 bits. Both sides derive the same key from opposite halves.
func (s nistSuite) exchange(privateKey, publicKey string) (cipher.AEAD, error) {
	priv, err := s.parsePrivateKey(privateKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pub, err := s.parsePublicKey(publicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	derived := make([]byte, SymmetricKeySize)
	if _, err := io.ReadFull(hkdf.New(sha512.New384, shared, nil, nil), derived); err != nil {
		return nil, trace.Wrap(err)
	}
	return newGCM(derived)
}

func (nistSuite) Sign(message []byte, privateKey string) ([]byte, error) {
	return nil, trace.NotImplemented("the NIST suite does not implement signing")
}

func (nistSuite) Verify(signature, message []byte, publicKey string) error {
	return trace.NotImplemented("the NIST suite does not implement signature verification")
}

func (nistSuite) EncodePublicKey(raw []byte) string  { return Base64Encode(raw) }
func (nistSuite) EncodePrivateKey(raw []byte) string { return Base64Encode(raw) }

func (s nistSuite) DecodePublicKey(key string) ([]byte, error) {
	raw, err := Base64Decode(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.parsePublicKeyPEM(raw); err != nil {
		return nil, trace.Wrap(err)
	}
	return raw, nil
}

func (s nistSuite) DecodePrivateKey(key string) ([]byte, error) {
	raw, err := Base64Decode(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := s.parsePrivateKeyPEM(raw); err != nil {
		return nil, trace.Wrap(err)
	}
	return raw, nil
}

func (s nistSuite) parsePublicKey(key string) (*ecdh.PublicKey, error) {
	raw, err := Base64Decode(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.parsePublicKeyPEM(raw)
}

func (s nistSuite) parsePublicKeyPEM(pemBytes []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, trace.BadParameter("public key is not PEM encoded")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch pub := parsed.(type) {
	case *ecdsa.PublicKey:
		ecdhPub, err := pub.ECDH()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if ecdhPub.Curve() != ecdh.P384() {
			return nil, trace.BadParameter("public key curve must be P-384")
		}
		return ecdhPub, nil
	case *ecdh.PublicKey:
		if pub.Curve() != ecdh.P384() {
			return nil, trace.BadParameter("public key curve must be P-384")
		}
		return pub, nil
	}
	return nil, trace.BadParameter("unsupported public key type %T", parsed)
}

func (s nistSuite) parsePrivateKey(key string) (*ecdh.PrivateKey, error) {
	raw, err := Base64Decode(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.parsePrivateKeyPEM(raw)
}

func (s nistSuite) parsePrivateKeyPEM(pemBytes []byte) (*ecdh.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, trace.BadParameter("private key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch priv := parsed.(type) {
	case *ecdsa.PrivateKey:
		ecdhPriv, err := priv.ECDH()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if ecdhPriv.Curve() != ecdh.P384() {
			return nil, trace.BadParameter("private key curve must be P-384")
		}
		return ecdhPriv, nil
	case *ecdh.PrivateKey:
		if priv.Curve() != ecdh.P384() {
			return nil, trace.BadParameter("private key curve must be P-384")
		}
		return priv, nil
	}
	return nil, trace.BadParameter("unsupported private key type %T", parsed)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, trace.BadParameter("symmetric key must be %d bytes, got %d", SymmetricKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return aead, nil
}
