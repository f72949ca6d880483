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
	"strings"

	"github.com/gravitational/trace"
)

// Per-field envelope: edk.edkN.ef.efN. The access key never touches the
// plaintext; it only wraps the per-field data key.
const fieldSegments = 4

// EAK envelope: ciphertext.nonce.
const eakSegments = 2

// EncryptField encrypts a single field value under ak: a fresh 32-byte data
// key encrypts the value, the access key wraps the data key, and the four
// pieces travel as dot-joined unpadded Base64URL segments.
func EncryptField(suite Suite, ak []byte, value string) (string, error) {
	dk, err := suite.RandomKey()
	if err != nil {
		return "", trace.Wrap(err)
	}
	efN, err := suite.RandomNonce()
	if err != nil {
		return "", trace.Wrap(err)
	}
	ef, err := suite.EncryptSecret(dk, []byte(value), efN)
	if err != nil {
		return "", trace.Wrap(err)
	}
	edkN, err := suite.RandomNonce()
	if err != nil {
		return "", trace.Wrap(err)
	}
	edk, err := suite.EncryptSecret(ak, dk, edkN)
	if err != nil {
		return "", trace.Wrap(err)
	}
	segments := []string{
		Base64Encode(edk),
		Base64Encode(edkN),
		Base64Encode(ef),
		Base64Encode(efN),
	}
	return strings.Join(segments, "."), nil
}

// DecryptField reverses EncryptField: unwrap the data key with ak, then
// decrypt the value. A wrong segment count, an empty segment, or a MAC
// failure abandons the field.
func DecryptField(suite Suite, ak []byte, encrypted string) (string, error) {
	edk, edkN, ef, efN, err := SplitField(encrypted)
	if err != nil {
		return "", trace.Wrap(err)
	}
	dk, err := suite.DecryptSecret(ak, edk, edkN)
	if err != nil {
		return "", trace.Wrap(err)
	}
	value, err := suite.DecryptSecret(dk, ef, efN)
	if err != nil {
		return "", trace.Wrap(err)
	}
	return string(value), nil
}

// SplitField validates and decodes the four envelope segments of an
// encrypted field.
func SplitField(encrypted string) (edk, edkN, ef, efN []byte, err error) {
	fields := strings.Split(encrypted, ".")
	if len(fields) != fieldSegments {
		return nil, nil, nil, nil, trace.BadParameter("invalid encrypted field: expected %d segments, got %d", fieldSegments, len(fields))
	}
	decoded := make([][]byte, fieldSegments)
	for i, f := range fields {
		b, err := Base64Decode(f)
		if err != nil {
			return nil, nil, nil, nil, trace.Wrap(err)
		}
		if len(b) == 0 {
			return nil, nil, nil, nil, trace.BadParameter("invalid encrypted field: empty segment %d", i)
		}
		decoded[i] = b
	}
	return decoded[0], decoded[1], decoded[2], decoded[3], nil
}

// EncodeEAK renders a wrapped access key as ciphertext.nonce.
func EncodeEAK(ciphertext, nonce []byte) string {
	return Base64Encode(ciphertext) + "." + Base64Encode(nonce)
}

// DecodeEAK splits a ciphertext.nonce envelope. Any other shape is a format
// error.
func DecodeEAK(eak string) (ciphertext, nonce []byte, err error) {
	fields := strings.Split(eak, ".")
	if len(fields) != eakSegments {
		return nil, nil, trace.BadParameter("invalid access key format: %q", eak)
	}
	ciphertext, err = Base64Decode(fields[0])
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	nonce, err = Base64Decode(fields[1])
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	if len(ciphertext) == 0 || len(nonce) == 0 {
		return nil, nil, trace.BadParameter("invalid access key format: empty segment")
	}
	return ciphertext, nonce, nil
}
