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
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/auth"
	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// WriteFile encrypts the file at path and stores it as a large-file record
// of recordType. The flow is three-legged: register a pending record with
// the encrypted file's checksum and size, upload the ciphertext to the
// signed URL the server hands back, then commit the record. The signed-URL
// upload carries no bearer token; integrity rides on the Content-MD5
// header the storage backend verifies.
func (c *Client) WriteFile(ctx context.Context, recordType, path string, plain map[string]string) (*types.Record, error) {
	if recordType == "" {
		return nil, trace.BadParameter("missing record type")
	}
	id := c.cfg.ClientID
	ak, err := c.getOrCreateAccessKey(ctx, id, id, recordType)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	info, err := cryptosuites.EncryptFile(c.suite, path, ak)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer os.Remove(info.Path)

	record := &types.Record{
		Meta: types.Meta{
			WriterID: id,
			UserID:   id,
			Type:     recordType,
			Plain:    plain,
			FileMeta: &types.FileMeta{
				FileName:    filepath.Base(path),
				Checksum:    info.Checksum,
				Compression: "raw",
				Size:        info.Size,
			},
		},
		Data: map[string]string{},
	}
	re, err := convertResponse(c.clt.PostJSON(ctx, c.clt.Endpoint("v1", "storage", "files"), record))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var pending types.PendingFile
	if err := unmarshalResponse(re, &pending); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.uploadFile(ctx, pending.FileURL, info); err != nil {
		return nil, trace.Wrap(err)
	}
	return c.commitFile(ctx, pending.RecordID)
}

// uploadFile PUTs the encrypted file to the signed URL.
func (c *Client) uploadFile(ctx context.Context, fileURL string, info *cryptosuites.EncryptedFileInfo) error {
	f, err := os.Open(info.Path)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, fileURL, f)
	if err != nil {
		return trace.Wrap(err)
	}
	req.ContentLength = info.Size
	req.Header.Set("Content-MD5", info.Checksum)
	req.Header.Set("Content-Type", "application/octet-stream")

	c.log.DebugContext(ctx, "uploading encrypted file",
		"size", info.Size, "checksum", info.Checksum)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return trace.Wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return trace.Wrap(err)
	}
	return auth.ReadError(resp.StatusCode, body)
}

// commitFile tells the server the upload is complete, turning the pending
// record into a readable one.
func (c *Client) commitFile(ctx context.Context, recordID uuid.UUID) (*types.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.clt.Endpoint("v1", "storage", "files", recordID.String()), nil)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := c.authedHTTP.Do(req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := auth.ReadError(resp.StatusCode, body); err != nil {
		return nil, trace.Wrap(err)
	}
	var record types.Record
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, trace.Wrap(err, "parsing server response")
	}
	return &record, nil
}

// ReadFile downloads and decrypts the large file attached to recordID,
// writing the plaintext to dstPath. The returned record carries the file
// metadata; its data map is empty, as large-file records hold no fields.
func (c *Client) ReadFile(ctx context.Context, recordID uuid.UUID, dstPath string) (*types.Record, error) {
	re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint(
		"v1", "storage", "files", recordID.String()), nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var record types.Record
	if err := unmarshalResponse(re, &record); err != nil {
		return nil, trace.Wrap(err)
	}
	if record.Meta.FileMeta == nil || record.Meta.FileMeta.FileURL == "" {
		return nil, trace.BadParameter("record %s has no file attached", recordID)
	}
	ak, err := c.getAccessKey(ctx, record.Meta.WriterID, record.Meta.UserID, c.cfg.ClientID, record.Meta.Type)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if ak == nil {
		return nil, trace.NotFound("no access key for records of type %q written by %s",
			record.Meta.Type, record.Meta.WriterID)
	}

	encPath, err := c.downloadFile(ctx, record.Meta.FileMeta.FileURL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer os.Remove(encPath)

	if err := cryptosuites.DecryptFile(c.suite, encPath, dstPath, ak); err != nil {
		return nil, trace.Wrap(err)
	}
	return &record, nil
}

// downloadFile streams the signed URL to a temporary file and returns its
// path. The caller removes it.
func (c *Client) downloadFile(ctx context.Context, fileURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", trace.Wrap(err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", trace.Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", auth.ReadError(resp.StatusCode, body)
	}

	tmp, err := os.CreateTemp("", "e3db-download-")
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", trace.Wrap(err)
	}
	c.log.DebugContext(ctx, "downloaded encrypted file", "size", n)
	return tmp.Name(), nil
}
