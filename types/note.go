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

package types

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Note is a self-contained encrypted payload. Everything a legitimate
// reader needs travels on the note itself: the wrapped access key, the
// writer's public keys, and a signature over every data field. Notes are
// anonymously readable with a TSV1-signed request; registration with the
// storage service is not required.
type Note struct {
	Data      map[string]string `json:"data"`
	Keys      NoteKeys          `json:"note_keys"`
	Options   NoteOptions       `json:"note_options"`
	Signature string            `json:"signature"`
	NoteID    uuid.UUID         `json:"note_id,omitempty"`
	EACP      json.RawMessage   `json:"eacp,omitempty"`
	Views     int               `json:"views,omitempty"`
	CreatedAt string            `json:"created_at,omitempty"`
}

// NoteKeys carries the key material a note travels with. Mode names the
// crypto suite; both sides of a note exchange must run the same one.
// EncryptedAccessKey is the two-segment ciphertext.nonce envelope wrapping
// the note's access key from the writer to the recipient.
type NoteKeys struct {
	Mode                string `json:"mode"`
	RecipientSigningKey string `json:"note_recipient_signing_key"`
	WriterSigningKey    string `json:"note_writer_signing_key"`
	WriterEncryptionKey string `json:"note_writer_encryption_key"`
	EncryptedAccessKey  string `json:"encrypted_access_key"`
}

// NoteOptions are the optional properties of a note. IDString is a
// writer-chosen name unique within the writer's space; writing a second
// note under a taken name is a conflict. MaxViews of -1 means unlimited.
// EACP is an opaque server-side access-control policy.
type NoteOptions struct {
	ClientID   uuid.UUID         `json:"note_writer_client_id,omitempty"`
	MaxViews   int               `json:"max_views,omitempty"`
	IDString   string            `json:"id_string,omitempty"`
	Expiration string            `json:"expiration,omitempty"`
	Expires    bool              `json:"expires,omitempty"`
	EACP       json.RawMessage   `json:"eacp,omitempty"`
	Type       string            `json:"type,omitempty"`
	Plain      map[string]string `json:"plain,omitempty"`
	FileMeta   map[string]string `json:"file_meta,omitempty"`
}
