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
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// SignatureVersion identifies the signed-field format. It prefixes every
// signed note field and must match exactly on verification.
const SignatureVersion = "e7737e7c-1637-511e-8bab-93c4f3e26fd9"

var (
	// ErrFieldUnsigned is returned when verification is requested for a
	// field that carries no signature envelope.
	ErrFieldUnsigned = errors.New("field is missing its signature")

	// ErrSignatureInvalid is returned when a signed field fails
	// verification: bad signature, wrong salt, or a mangled prefix.
	ErrSignatureInvalid = errors.New("field signature verification failed")
)

// SignField signs a (name, value) pair and returns the wire form
//
//	version ";" salt ";" len(sigB64) ";" sigB64 || value
//
// where the signature covers HashString(salt || name || value). An empty
// salt means a fresh one; note creation passes the shared per-note salt so
// every field of a note verifies against the same value.
func SignField(suite Suite, name, value, privateSigningKey, salt string) (string, error) {
	if salt == "" {
		salt = uuid.NewString()
	}
	message := HashString(salt + name + value)
	sig, err := suite.Sign(message, privateSigningKey)
	if err != nil {
		return "", trace.Wrap(err)
	}
	sigB64 := Base64Encode(sig)
	prefix := strings.Join([]string{SignatureVersion, salt, strconv.Itoa(len(sigB64)), sigB64}, ";")
	return prefix + value, nil
}

// VerifyField checks a signed field and returns the bare value. When
// expectedSalt is non-empty the field's salt must match it; note decryption
// uses this to bind every field to the salt carried in the note's own
// signature. A field without a signature envelope fails with
// ErrFieldUnsigned.
func VerifyField(suite Suite, name, signed, publicSigningKey, expectedSalt string) (string, error) {
	salt, sigB64, value, ok := splitSignedField(signed)
	if !ok {
		return "", trace.Wrap(ErrFieldUnsigned)
	}
	if expectedSalt != "" && salt != expectedSalt {
		return "", trace.Wrap(ErrSignatureInvalid, "field %q was signed with an unexpected salt", name)
	}
	sig, err := Base64Decode(sigB64)
	if err != nil {
		return "", trace.Wrap(ErrSignatureInvalid, "field %q carries undecodable signature bytes", name)
	}
	message := HashString(salt + name + value)
	if err := suite.Verify(sig, message, publicSigningKey); err != nil {
		return "", trace.Wrap(ErrSignatureInvalid, "field %q failed verification", name)
	}
	return value, nil
}

// StripSignature removes the signed-field prefix when one is present and
// returns the bare value, without verifying anything. Used when the caller
// explicitly opted out of verification.
func StripSignature(signed string) string {
	if _, _, value, ok := splitSignedField(signed); ok {
		return value
	}
	return signed
}

func splitSignedField(signed string) (salt, sig, value string, ok bool) {
	parts := strings.SplitN(signed, ";", 4)
	if len(parts) != 4 || parts[0] != SignatureVersion {
		return "", "", "", false
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return "", "", "", false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil || n <= 0 || n > len(parts[3]) {
		return "", "", "", false
	}
	return parts[1], parts[3][:n], parts[3][n:], true
}
