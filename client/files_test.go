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
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestFileRoundTrip(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	ctx := context.Background()

	// Several chunks plus a partial tail.
	plaintext := make([]byte, 3*65536+1234)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	dir := t.TempDir()
	src := filepath.Join(dir, "report.bin")
	require.NoError(t, os.WriteFile(src, plaintext, 0o600))

	written, err := c.WriteFile(ctx, "attachment", src, map[string]string{"kind": "report"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, written.Meta.RecordID)
	require.NotNil(t, written.Meta.FileMeta)
	require.Equal(t, "report.bin", written.Meta.FileMeta.FileName)
	require.Equal(t, "raw", written.Meta.FileMeta.Compression)
	require.Greater(t, written.Meta.FileMeta.Size, int64(len(plaintext)))

	// The uploaded bytes are ciphertext, not the file contents.
	f.mu.Lock()
	uploaded := f.files[written.Meta.RecordID]
	f.mu.Unlock()
	require.NotEmpty(t, uploaded)
	require.False(t, bytes.Contains(uploaded, plaintext[:64]))

	dst := filepath.Join(dir, "restored.bin")
	record, err := c.ReadFile(ctx, written.Meta.RecordID, dst)
	require.NoError(t, err)
	require.Equal(t, "report", record.Meta.Plain["kind"])

	restored, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, plaintext, restored)
}

func TestFileSharedReader(t *testing.T) {
	f := newFakeServer(t)
	alice := f.newClient(t)
	bob := f.newClient(t)
	ctx := context.Background()

	dir := t.TempDir()
	src := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("shared file contents"), 0o600))

	written, err := alice.WriteFile(ctx, "attachment", src, nil)
	require.NoError(t, err)
	require.NoError(t, alice.Share(ctx, "attachment", bob.ClientID()))

	dst := filepath.Join(dir, "bob.txt")
	_, err = bob.ReadFile(ctx, written.Meta.RecordID, dst)
	require.NoError(t, err)
	restored, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "shared file contents", string(restored))
}

func TestReadFileMissing(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	_, err := c.ReadFile(context.Background(), uuid.New(), filepath.Join(t.TempDir(), "out"))
	require.True(t, trace.IsNotFound(err))
}
