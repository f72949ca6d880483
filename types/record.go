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

// Package types holds the wire and data types of the TozStore storage
// service: records, notes, sharing policies, queries, and key material
// containers. Field names follow the service's JSON contract exactly;
// nothing in this package performs crypto.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Record is a single stored document: server-owned metadata plus a flat map
// of string fields. Data values are four-segment encrypted envelopes on the
// wire and plaintext in memory before encryption and after decryption.
type Record struct {
	Meta Meta              `json:"meta"`
	Data map[string]string `json:"data"`
}

// Meta is the unencrypted metadata of a record. The server assigns
// RecordID, Created, LastModified, and Version; WriterID never changes
// after creation. Plain is queryable, unencrypted tagging.
type Meta struct {
	RecordID     uuid.UUID         `json:"record_id,omitempty"`
	WriterID     uuid.UUID         `json:"writer_id"`
	UserID       uuid.UUID         `json:"user_id"`
	Type         string            `json:"type"`
	Plain        map[string]string `json:"plain,omitempty"`
	Created      time.Time         `json:"created,omitempty"`
	LastModified time.Time         `json:"last_modified,omitempty"`
	Version      string            `json:"version,omitempty"`
	FileMeta     *FileMeta         `json:"file_meta,omitempty"`
}

// FileMeta describes the large file attached to a record. Checksum is the
// standard-Base64 MD5 of the entire encrypted file including its header;
// Size counts the same bytes. FileURL is a signed upload or download URL
// set by the server and valid only briefly.
type FileMeta struct {
	FileURL     string `json:"file_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Compression string `json:"compression,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// File is the result of a large-file write or read: the record the file
// rides on plus its file metadata.
type File struct {
	RecordID     uuid.UUID         `json:"record_id,omitempty"`
	WriterID     uuid.UUID         `json:"writer_id"`
	UserID       uuid.UUID         `json:"user_id"`
	Type         string            `json:"type"`
	Plain        map[string]string `json:"plain,omitempty"`
	Created      time.Time         `json:"created,omitempty"`
	LastModified time.Time         `json:"last_modified,omitempty"`
	Version      string            `json:"version,omitempty"`
	FileMeta     *FileMeta         `json:"file_meta,omitempty"`
}

// PendingFile is the server's answer to a pending-file creation: the
// record id the file will commit to and the signed URL the encrypted
// bytes go to.
type PendingFile struct {
	RecordID uuid.UUID `json:"id"`
	FileURL  string    `json:"file_url"`
}
