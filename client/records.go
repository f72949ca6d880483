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

package client

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// Write encrypts data and stores it as a new record of the given type.
// Plain metadata travels unencrypted and is searchable server-side. The
// returned record carries the server-assigned id, version, and timestamps,
// with the data decrypted back for the caller.
func (c *Client) Write(ctx context.Context, recordType string, data, plain map[string]string) (*types.Record, error) {
	if recordType == "" {
		return nil, trace.BadParameter("missing record type")
	}
	if len(data) == 0 {
		return nil, trace.BadParameter("record data must not be empty")
	}
	record := &types.Record{
		Meta: types.Meta{
			WriterID: c.cfg.ClientID,
			UserID:   c.cfg.ClientID,
			Type:     recordType,
			Plain:    plain,
		},
		Data: data,
	}
	encrypted, err := c.encryptRecord(ctx, record)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := convertResponse(c.clt.PostJSON(ctx, c.clt.Endpoint("v1", "storage", "records"), encrypted))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var stored types.Record
	if err := unmarshalResponse(re, &stored); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.decryptRecord(ctx, &stored); err != nil {
		return nil, trace.Wrap(err)
	}
	return &stored, nil
}

// Read fetches a record by id and decrypts its data. Optional fields
// restrict the response to a subset of data fields; the server still
// returns full metadata.
func (c *Client) Read(ctx context.Context, recordID uuid.UUID, fields ...string) (*types.Record, error) {
	var query url.Values
	if len(fields) > 0 {
		query = url.Values{"field": fields}
	}
	re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint(
		"v1", "storage", "records", recordID.String()), query))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var record types.Record
	if err := unmarshalResponse(re, &record); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.decryptRecord(ctx, &record); err != nil {
		return nil, trace.Wrap(err)
	}
	return &record, nil
}

// Update replaces a record's data and plain metadata. The update is
// optimistic: it names the version the caller read, and the server rejects
// it with a conflict error if someone else has written in between.
func (c *Client) Update(ctx context.Context, record *types.Record) (*types.Record, error) {
	if record.Meta.RecordID == uuid.Nil {
		return nil, trace.BadParameter("record has no id, write it first")
	}
	if record.Meta.Version == "" {
		return nil, trace.BadParameter("record has no version, read it first")
	}
	encrypted, err := c.encryptRecord(ctx, record)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	re, err := convertResponse(c.clt.PutJSON(ctx, c.clt.Endpoint(
		"v1", "storage", "records", "safe",
		record.Meta.RecordID.String(), record.Meta.Version), encrypted))
	if err != nil {
		if trace.IsAlreadyExists(err) {
			return nil, trace.AlreadyExists("record %s version %s is stale", record.Meta.RecordID, record.Meta.Version)
		}
		return nil, trace.Wrap(err)
	}
	var stored types.Record
	if err := unmarshalResponse(re, &stored); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.decryptRecord(ctx, &stored); err != nil {
		return nil, trace.Wrap(err)
	}
	return &stored, nil
}

// Delete removes a record. A non-empty version makes the delete
// optimistic, failing with a conflict error when the stored version no
// longer matches.
func (c *Client) Delete(ctx context.Context, recordID uuid.UUID, version string) error {
	parts := []string{"v1", "storage", "records", recordID.String()}
	if version != "" {
		parts = []string{"v1", "storage", "records", "safe", recordID.String(), version}
	}
	_, err := convertResponse(c.clt.Delete(ctx, c.clt.Endpoint(parts...)))
	return trace.Wrap(err)
}

// encryptRecord returns a copy of record with every data field encrypted
// under the writer's access key for the record type, creating and
// registering the access key on first write of the type.
func (c *Client) encryptRecord(ctx context.Context, record *types.Record) (*types.Record, error) {
	ak, err := c.getOrCreateAccessKey(ctx, record.Meta.WriterID, record.Meta.UserID, record.Meta.Type)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	encrypted := &types.Record{
		Meta: record.Meta,
		Data: make(map[string]string, len(record.Data)),
	}
	for name, value := range record.Data {
		encrypted.Data[name], err = cryptosuites.EncryptField(c.suite, ak, value)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return encrypted, nil
}

// getOrCreateAccessKey returns the writer's own access key for the record
// type, minting and uploading a fresh one if none exists yet.
func (c *Client) getOrCreateAccessKey(ctx context.Context, writerID, userID uuid.UUID, recordType string) ([]byte, error) {
	ak, err := c.getAccessKey(ctx, writerID, userID, c.cfg.ClientID, recordType)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if ak != nil {
		return ak, nil
	}
	ak, err = c.suite.RandomKey()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.putAccessKey(ctx, writerID, userID, c.cfg.ClientID, recordType, ak); err != nil {
		return nil, trace.Wrap(err)
	}
	return ak, nil
}

// decryptRecord decrypts record data in place using the access key for
// the record's writer and type.
func (c *Client) decryptRecord(ctx context.Context, record *types.Record) error {
	ak, err := c.getAccessKey(ctx, record.Meta.WriterID, record.Meta.UserID, c.cfg.ClientID, record.Meta.Type)
	if err != nil {
		return trace.Wrap(err)
	}
	if ak == nil {
		return trace.NotFound("no access key for records of type %q written by %s",
			record.Meta.Type, record.Meta.WriterID)
	}
	return trace.Wrap(decryptRecordWithKey(c.suite, record, ak))
}

// decryptRecordWithKey decrypts record data in place with an already
// unwrapped access key, for call sites that carry the key alongside the
// record, such as query results.
func decryptRecordWithKey(suite cryptosuites.Suite, record *types.Record, ak []byte) error {
	for name, value := range record.Data {
		plain, err := cryptosuites.DecryptField(suite, ak, value)
		if err != nil {
			return trace.Wrap(err, "decrypting field %q", name)
		}
		record.Data[name] = plain
	}
	return nil
}
