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

// Package config persists client credentials as named profiles under
// ~/.tozny. Profile files hold API secrets and private keys, so they are
// written owner-readable only and never silently overwritten.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/client"
)

// Version is the profile document version written by this package.
const Version = 1

// configDir is the directory profiles live under, relative to the user's
// home directory.
const configDir = ".tozny"

// configFile is the profile file name within its directory.
const configFile = "e3db.json"

// Profile is the JSON document persisted for one client.
type Profile struct {
	Version           int       `json:"version"`
	ClientID          uuid.UUID `json:"client_id"`
	APIKeyID          string    `json:"api_key_id"`
	APISecret         string    `json:"api_secret"`
	ClientEmail       string    `json:"client_email"`
	PublicKey         string    `json:"public_key"`
	PrivateKey        string    `json:"private_key"`
	PublicSigningKey  string    `json:"public_signing_key,omitempty"`
	PrivateSigningKey string    `json:"private_signing_key,omitempty"`
	APIURL            string    `json:"api_url"`
}

// ClientConfig converts the profile into a storage client configuration.
func (p *Profile) ClientConfig() client.Config {
	return client.Config{
		ClientID:          p.ClientID,
		ClientEmail:       p.ClientEmail,
		APIKeyID:          p.APIKeyID,
		APISecret:         p.APISecret,
		PublicKey:         p.PublicKey,
		PrivateKey:        p.PrivateKey,
		PublicSigningKey:  p.PublicSigningKey,
		PrivateSigningKey: p.PrivateSigningKey,
		APIURL:            p.APIURL,
	}
}

// FromClientConfig builds a profile document from a client configuration.
func FromClientConfig(cfg client.Config) *Profile {
	return &Profile{
		Version:           Version,
		ClientID:          cfg.ClientID,
		ClientEmail:       cfg.ClientEmail,
		APIKeyID:          cfg.APIKeyID,
		APISecret:         cfg.APISecret,
		PublicKey:         cfg.PublicKey,
		PrivateKey:        cfg.PrivateKey,
		PublicSigningKey:  cfg.PublicSigningKey,
		PrivateSigningKey: cfg.PrivateSigningKey,
		APIURL:            cfg.APIURL,
	}
}

// profilePath returns the file path of the named profile, or of the
// default profile when the name is empty.
func profilePath(profile string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	if profile == "" {
		return filepath.Join(home, configDir, configFile), nil
	}
	return filepath.Join(home, configDir, profile, configFile), nil
}

// Default loads the default profile.
func Default() (*Profile, error) {
	return LoadProfile("")
}

// Load is an alias for loading the default profile, kept for symmetry
// with Save.
func Load() (*Profile, error) {
	return LoadProfile("")
}

// LoadProfile loads a named profile. A missing profile is a not-found
// error naming the path, so callers can distinguish "never registered"
// from a malformed file.
func LoadProfile(profile string) (*Profile, error) {
	path, err := profilePath(profile)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, trace.Wrap(err, "parsing profile %s", path)
	}
	if p.Version != Version {
		return nil, trace.BadParameter("profile %s has unsupported version %d", path, p.Version)
	}
	return &p, nil
}

// Save persists a profile under the given name, or as the default profile
// when the name is empty. Saving over an existing profile fails; delete
// the file first to rotate credentials deliberately.
func Save(profile string, p *Profile) error {
	path, err := profilePath(profile)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return trace.ConvertSystemError(err)
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return trace.Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return trace.AlreadyExists("profile %s already exists", path)
		}
		return trace.ConvertSystemError(err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}
