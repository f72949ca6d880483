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

// Package e3db holds constants shared by the TozStore client SDK packages.
package e3db

const (
	// DefaultAPIURL is the production TozStore endpoint used when a
	// configuration does not name one.
	DefaultAPIURL = "https://api.e3db.com"

	// EnvCryptoSuite is the environment variable that selects the crypto
	// suite at process startup. Both sides of an exchange must agree on
	// the suite; it is read once and never re-evaluated.
	EnvCryptoSuite = "CRYPTO_SUITE"

	// CryptoSuiteNIST is the EnvCryptoSuite value that selects the NIST
	// suite. Any other value (or none) selects the sodium suite.
	CryptoSuiteNIST = "NIST"

	// Component is the log attribute key under which SDK components
	// identify themselves.
	Component = "component"

	// ComponentClient is the storage client, used for logging.
	ComponentClient = "e3db:client"

	// ComponentIdentity is the identity login flow, used for logging.
	ComponentIdentity = "e3db:identity"

	// ComponentAuth is the token and request-signing layer, used for logging.
	ComponentAuth = "e3db:auth"
)
