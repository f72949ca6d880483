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
	"encoding/base64"
	"strings"

	"github.com/gravitational/trace"
	"golang.org/x/crypto/blake2b"
)

// Base64Encode returns the unpadded Base64URL form of b, the encoding used
// for every key and envelope segment on the wire.
func Base64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64Decode decodes unpadded Base64URL. Padded input is tolerated since
// some SDKs emit it.
func Base64Decode(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, trace.BadParameter("invalid base64url data: %v", err)
	}
	return b, nil
}

// HashString returns the BLAKE2b digest of the UTF-8 bytes of s. The
// 32-byte digest length is load-bearing: note names and TSV1 request hashes
// are both derived from it.
func HashString(s string) []byte {
	sum := blake2b.Sum256([]byte(s))
	return sum[:]
}
