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
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// fakeServer is an in-memory stand-in for the storage service. It stores
// whatever envelopes clients upload and serves them back; all crypto
// happens client-side, so the fake never needs key material of its own.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	clients  map[uuid.UUID]types.ClientInfo
	eaks     map[string]eakEntry
	records  []*types.Record
	byID     map[uuid.UUID]*types.Record
	policies map[string]types.Policy
	proxies  []types.AuthorizerPolicy
	outgoing []types.OutgoingSharingPolicy

	files     map[uuid.UUID][]byte
	pending   map[uuid.UUID]*types.Record
	committed map[uuid.UUID]*types.Record

	notes          map[uuid.UUID]*types.Note
	noteLoginToken string

	backupClient uuid.UUID
	backupCalls  int
}

type eakEntry struct {
	eak          string
	authorizerID uuid.UUID
}

func eakKey(writer, user, reader, recordType string) string {
	return strings.Join([]string{writer, user, reader, recordType}, "/")
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		t:         t,
		clients:   make(map[uuid.UUID]types.ClientInfo),
		eaks:      make(map[string]eakEntry),
		byID:      make(map[uuid.UUID]*types.Record),
		policies:  make(map[string]types.Policy),
		files:     make(map[uuid.UUID][]byte),
		pending:   make(map[uuid.UUID]*types.Record),
		committed: make(map[uuid.UUID]*types.Record),
		notes:     make(map[uuid.UUID]*types.Note),
	}
	f.srv = httptest.NewServer(f.handler())
	t.Cleanup(f.srv.Close)
	return f
}

// newClient registers a fresh client identity with the fake and returns a
// connected Client for it. The API key id doubles as the bearer identity
// so handlers can tell callers apart.
func (f *fakeServer) newClient(t *testing.T) *Client {
	t.Helper()
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)
	sigPub, sigPriv, err := GenerateSigningKeyPair()
	require.NoError(t, err)

	id := uuid.New()
	f.mu.Lock()
	f.clients[id] = types.ClientInfo{
		ClientID:  id,
		PublicKey: types.PublicKey{Curve25519: pub},
		Validated: true,
	}
	f.mu.Unlock()

	c, err := New(Config{
		ClientID:          id,
		APIKeyID:          id.String(),
		APISecret:         "secret-" + id.String(),
		PublicKey:         pub,
		PrivateKey:        priv,
		PublicSigningKey:  sigPub,
		PrivateSigningKey: sigPriv,
		APIURL:            f.srv.URL,
	})
	require.NoError(t, err)
	return c
}

func (f *fakeServer) callerID(r *http.Request) uuid.UUID {
	const prefix = "Bearer tok-"
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimPrefix(h, prefix))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok {
			http.Error(w, `{"error":"missing credentials"}`, http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "tok-" + user,
			"expires_at":   time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	})

	mux.HandleFunc("GET /v1/storage/clients/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			http.Error(w, `{"error":"bad id"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		info, ok := f.clients[id]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"no such client"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("GET /v1/storage/access_keys/{writer}/{user}/{reader}/{type}", func(w http.ResponseWriter, r *http.Request) {
		key := eakKey(r.PathValue("writer"), r.PathValue("user"), r.PathValue("reader"), r.PathValue("type"))
		f.mu.Lock()
		entry, ok := f.eaks[key]
		authorizer := f.clients[entry.authorizerID]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"no access key"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, types.EAKBlock{
			EAK:                 entry.eak,
			AuthorizerID:        entry.authorizerID,
			AuthorizerPublicKey: authorizer.PublicKey,
		})
	})

	mux.HandleFunc("PUT /v1/storage/access_keys/{writer}/{user}/{reader}/{type}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			EAK string `json:"eak"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		key := eakKey(r.PathValue("writer"), r.PathValue("user"), r.PathValue("reader"), r.PathValue("type"))
		f.mu.Lock()
		f.eaks[key] = eakEntry{eak: body.EAK, authorizerID: f.callerID(r)}
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("DELETE /v1/storage/access_keys/{writer}/{user}/{reader}/{type}", func(w http.ResponseWriter, r *http.Request) {
		key := eakKey(r.PathValue("writer"), r.PathValue("user"), r.PathValue("reader"), r.PathValue("type"))
		f.mu.Lock()
		delete(f.eaks, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /v1/storage/records", func(w http.ResponseWriter, r *http.Request) {
		var record types.Record
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		record.Meta.RecordID = uuid.New()
		record.Meta.Version = uuid.NewString()
		record.Meta.Created = time.Now().UTC()
		record.Meta.LastModified = record.Meta.Created
		f.mu.Lock()
		f.records = append(f.records, &record)
		f.byID[record.Meta.RecordID] = &record
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, record)
	})

	mux.HandleFunc("GET /v1/storage/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.PathValue("id"))
		f.mu.Lock()
		record, ok := f.byID[id]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"no such record"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, record)
	})

	mux.HandleFunc("PUT /v1/storage/records/safe/{id}/{version}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.PathValue("id"))
		f.mu.Lock()
		defer f.mu.Unlock()
		record, ok := f.byID[id]
		if !ok {
			http.Error(w, `{"error":"no such record"}`, http.StatusNotFound)
			return
		}
		if record.Meta.Version != r.PathValue("version") {
			http.Error(w, `{"error":"version conflict"}`, http.StatusConflict)
			return
		}
		var updated types.Record
		if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		record.Data = updated.Data
		record.Meta.Plain = updated.Meta.Plain
		record.Meta.Version = uuid.NewString()
		record.Meta.LastModified = time.Now().UTC()
		writeJSON(w, http.StatusOK, record)
	})

	deleteRecord := func(w http.ResponseWriter, r *http.Request, version string) {
		id, _ := uuid.Parse(r.PathValue("id"))
		f.mu.Lock()
		defer f.mu.Unlock()
		record, ok := f.byID[id]
		if !ok {
			http.Error(w, `{"error":"no such record"}`, http.StatusNotFound)
			return
		}
		if version != "" && record.Meta.Version != version {
			http.Error(w, `{"error":"version conflict"}`, http.StatusConflict)
			return
		}
		delete(f.byID, id)
		f.records = slices.DeleteFunc(f.records, func(r *types.Record) bool {
			return r.Meta.RecordID == id
		})
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("DELETE /v1/storage/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleteRecord(w, r, "")
	})
	mux.HandleFunc("DELETE /v1/storage/records/safe/{id}/{version}", func(w http.ResponseWriter, r *http.Request) {
		deleteRecord(w, r, r.PathValue("version"))
	})

	mux.HandleFunc("PUT /v1/storage/policy/{user}/{writer}/{reader}/{type}", func(w http.ResponseWriter, r *http.Request) {
		var policy types.Policy
		if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		writer, _ := uuid.Parse(r.PathValue("writer"))
		user, _ := uuid.Parse(r.PathValue("user"))
		reader, _ := uuid.Parse(r.PathValue("reader"))
		recordType := r.PathValue("type")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.policies[eakKey(r.PathValue("user"), r.PathValue("writer"), r.PathValue("reader"), recordType)] = policy
		for _, rule := range policy.Allow {
			if rule.Authorizer != nil {
				f.proxies = append(f.proxies, types.AuthorizerPolicy{
					AuthorizerID: reader,
					WriterID:     writer,
					UserID:       user,
					RecordType:   recordType,
					AuthorizedBy: f.callerID(r),
				})
			}
			if rule.Read != nil {
				f.outgoing = append(f.outgoing, types.OutgoingSharingPolicy{
					ReaderID:   reader,
					RecordType: recordType,
				})
			}
		}
		for _, rule := range policy.Deny {
			if rule.Authorizer != nil {
				f.proxies = slices.DeleteFunc(f.proxies, func(p types.AuthorizerPolicy) bool {
					return p.AuthorizerID == reader && p.RecordType == recordType
				})
			}
			if rule.Read != nil {
				f.outgoing = slices.DeleteFunc(f.outgoing, func(p types.OutgoingSharingPolicy) bool {
					return p.ReaderID == reader && p.RecordType == recordType
				})
			}
		}
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("GET /v1/storage/policy/proxies", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.proxies)
	})
	mux.HandleFunc("GET /v1/storage/policy/granted", func(w http.ResponseWriter, r *http.Request) {
		caller := f.callerID(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		granted := make([]types.AuthorizerPolicy, 0)
		for _, p := range f.proxies {
			if p.AuthorizerID == caller {
				granted = append(granted, p)
			}
		}
		writeJSON(w, http.StatusOK, granted)
	})
	mux.HandleFunc("GET /v1/storage/policy/outgoing", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, f.outgoing)
	})
	mux.HandleFunc("GET /v1/storage/policy/incoming", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []types.IncomingSharingPolicy{})
	})

	f.registerSearchHandlers(mux)
	f.registerFileHandlers(mux)
	f.registerNoteHandlers(mux)
	f.registerAccountHandlers(mux)

	return mux
}

// searchResults renders stored records as search results for the caller,
// attaching the caller's EAK when one exists.
func (f *fakeServer) searchResults(caller uuid.UUID, records []*types.Record, includeData bool) []types.SearchRecord {
	results := make([]types.SearchRecord, 0, len(records))
	for _, record := range records {
		result := types.SearchRecord{Meta: record.Meta}
		if includeData {
			result.Data = record.Data
			key := eakKey(record.Meta.WriterID.String(), record.Meta.UserID.String(),
				caller.String(), record.Meta.Type)
			if entry, ok := f.eaks[key]; ok {
				authorizer := f.clients[entry.authorizerID]
				result.AccessKey = &types.EAKBlock{
					EAK:                 entry.eak,
					AuthorizerID:        entry.authorizerID,
					AuthorizerPublicKey: authorizer.PublicKey,
				}
			}
		}
		results = append(results, result)
	}
	return results
}

func (f *fakeServer) registerSearchHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/storage/search", func(w http.ResponseWriter, r *http.Request) {
		var q types.Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		var matched []*types.Record
		for _, record := range f.records {
			if len(q.ContentTypes) > 0 && !slices.Contains(q.ContentTypes, record.Meta.Type) {
				continue
			}
			if len(q.RecordIDs) > 0 && !slices.Contains(q.RecordIDs, record.Meta.RecordID) {
				continue
			}
			matched = append(matched, record)
		}
		start := min(q.AfterIndex, len(matched))
		end := min(start+q.Count, len(matched))
		writeJSON(w, http.StatusOK, types.QueryResponse{
			Results:   f.searchResults(f.callerID(r), matched[start:end], q.IncludeData),
			LastIndex: end,
		})
	})

	mux.HandleFunc("POST /v2/search", func(w http.ResponseWriter, r *http.Request) {
		var s types.Search
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		var matched []*types.Record
		for _, record := range f.records {
			if len(s.Match) > 0 && len(s.Match[0].Terms.ContentTypes) > 0 &&
				!slices.Contains(s.Match[0].Terms.ContentTypes, record.Meta.Type) {
				continue
			}
			matched = append(matched, record)
		}
		if len(matched) == 0 {
			// The real service serializes an empty page with null results.
			writeJSON(w, http.StatusOK, map[string]any{
				"results": nil, "last_index": 0, "search_id": "", "total_results": 0,
			})
			return
		}
		start := min(s.NextToken, len(matched))
		end := len(matched)
		if s.Limit > 0 {
			end = min(start+s.Limit, len(matched))
		}
		next := 0
		if end < len(matched) {
			next = end
		}
		writeJSON(w, http.StatusOK, types.SearchResponse{
			Results:      f.searchResults(f.callerID(r), matched[start:end], s.IncludeData),
			LastIndex:    next,
			SearchID:     "search-1",
			TotalResults: int64(len(matched)),
		})
	})
}

func (f *fakeServer) registerFileHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/storage/files", func(w http.ResponseWriter, r *http.Request) {
		var record types.Record
		if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		id := uuid.New()
		record.Meta.RecordID = id
		f.mu.Lock()
		f.pending[id] = &record
		f.mu.Unlock()
		writeJSON(w, http.StatusAccepted, types.PendingFile{
			RecordID: id,
			FileURL:  f.srv.URL + "/upload/" + id.String(),
		})
	})

	mux.HandleFunc("PUT /upload/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.PathValue("id"))
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, `{"error":"read failed"}`, http.StatusBadRequest)
			return
		}
		sum := md5.Sum(body)
		if got := r.Header.Get("Content-MD5"); got != base64.StdEncoding.EncodeToString(sum[:]) {
			http.Error(w, `{"error":"checksum mismatch"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.files[id] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("PATCH /v1/storage/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.PathValue("id"))
		f.mu.Lock()
		defer f.mu.Unlock()
		record, ok := f.pending[id]
		if !ok {
			http.Error(w, `{"error":"no pending file"}`, http.StatusNotFound)
			return
		}
		if _, ok := f.files[id]; !ok {
			http.Error(w, `{"error":"file not uploaded"}`, http.StatusBadRequest)
			return
		}
		delete(f.pending, id)
		record.Meta.Version = uuid.NewString()
		record.Meta.Created = time.Now().UTC()
		record.Meta.LastModified = record.Meta.Created
		f.committed[id] = record
		writeJSON(w, http.StatusOK, record)
	})

	mux.HandleFunc("GET /v1/storage/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.PathValue("id"))
		f.mu.Lock()
		record, ok := f.committed[id]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"no such file"}`, http.StatusNotFound)
			return
		}
		out := *record
		meta := *record.Meta.FileMeta
		meta.FileURL = f.srv.URL + "/download/" + id.String()
		out.Meta.FileMeta = &meta
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("GET /download/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.PathValue("id"))
		f.mu.Lock()
		body, ok := f.files[id]
		f.mu.Unlock()
		if !ok {
			http.Error(w, `{"error":"no such file"}`, http.StatusNotFound)
			return
		}
		w.Write(body)
	})
}

func (f *fakeServer) registerNoteHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /v2/storage/notes", func(w http.ResponseWriter, r *http.Request) {
		var note types.Note
		if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if note.Options.IDString != "" {
			for _, existing := range f.notes {
				if existing.Options.IDString == note.Options.IDString {
					http.Error(w, `{"error":"note name taken"}`, http.StatusConflict)
					return
				}
			}
		}
		note.NoteID = uuid.New()
		note.CreatedAt = time.Now().UTC().Format(time.RFC3339)
		f.notes[note.NoteID] = &note
		writeJSON(w, http.StatusCreated, note)
	})

	mux.HandleFunc("GET /v2/storage/notes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.noteLoginToken = r.Header.Get("X-Tozid-Login-Token")
		if raw := r.URL.Query().Get("note_id"); raw != "" {
			id, _ := uuid.Parse(raw)
			if note, ok := f.notes[id]; ok {
				writeJSON(w, http.StatusOK, note)
				return
			}
		}
		if name := r.URL.Query().Get("id_string"); name != "" {
			for _, note := range f.notes {
				if note.Options.IDString == name {
					writeJSON(w, http.StatusOK, note)
					return
				}
			}
		}
		http.Error(w, `{"error":"no such note"}`, http.StatusNotFound)
	})

	mux.HandleFunc("DELETE /v2/storage/notes/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := uuid.Parse(r.PathValue("id"))
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.notes[id]; !ok {
			http.Error(w, `{"error":"no such note"}`, http.StatusNotFound)
			return
		}
		delete(f.notes, id)
		w.WriteHeader(http.StatusNoContent)
	})
}

func (f *fakeServer) registerAccountHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/account/e3db/clients/register", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token  string `json:"token"`
			Client struct {
				Name       string            `json:"name"`
				PublicKey  types.PublicKey   `json:"public_key"`
				SigningKey *types.SigningKey `json:"signing_key"`
			} `json:"client"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
			return
		}
		if req.Token != "valid-token" {
			http.Error(w, `{"error":"invalid registration token"}`, http.StatusUnauthorized)
			return
		}
		id := uuid.New()
		f.mu.Lock()
		f.clients[id] = types.ClientInfo{ClientID: id, PublicKey: req.Client.PublicKey}
		backupID := f.backupClientID()
		f.mu.Unlock()
		details := types.ClientDetails{
			ClientID:  id,
			APIKeyID:  id.String(),
			APISecret: "secret-" + id.String(),
			PublicKey: req.Client.PublicKey,
			Name:      req.Client.Name,
		}
		if req.Client.SigningKey != nil {
			details.SigningKey = *req.Client.SigningKey
		}
		w.Header().Set("X-Backup-Client", backupID.String())
		writeJSON(w, http.StatusCreated, details)
	})

	mux.HandleFunc("POST /v1/account/backup/{token}/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.backupCalls++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

// backupClientID lazily registers the account's backup client. Callers
// hold f.mu.
func (f *fakeServer) backupClientID() uuid.UUID {
	if f.backupClient == uuid.Nil {
		pair, err := cryptosuites.Default().GenerateKeyPair()
		if err != nil {
			f.t.Fatal(err)
		}
		id := uuid.New()
		f.clients[id] = types.ClientInfo{ClientID: id, PublicKey: types.PublicKey{Curve25519: pair.Public}}
		f.backupClient = id
	}
	return f.backupClient
}

func TestWriteThenRead(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	ctx := context.Background()

	written, err := c.Write(ctx, "ledger-entry",
		map[string]string{"amount": "12.50", "memo": "coffee"},
		map[string]string{"category": "food"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, written.Meta.RecordID)
	require.Equal(t, "12.50", written.Data["amount"])

	read, err := c.Read(ctx, written.Meta.RecordID)
	require.NoError(t, err)
	require.Equal(t, "12.50", read.Data["amount"])
	require.Equal(t, "coffee", read.Data["memo"])
	require.Equal(t, "food", read.Meta.Plain["category"])

	// The stored envelope must not contain the plaintext.
	f.mu.Lock()
	stored := f.byID[written.Meta.RecordID]
	f.mu.Unlock()
	require.NotContains(t, stored.Data["memo"], "coffee")
	require.Len(t, strings.Split(stored.Data["memo"], "."), 4)
}

func TestWriteValidation(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	ctx := context.Background()

	_, err := c.Write(ctx, "", map[string]string{"a": "b"}, nil)
	require.True(t, trace.IsBadParameter(err))
	_, err = c.Write(ctx, "x", nil, nil)
	require.True(t, trace.IsBadParameter(err))
}

func TestUpdateDetectsConflict(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	ctx := context.Background()

	record, err := c.Write(ctx, "doc", map[string]string{"body": "v1"}, nil)
	require.NoError(t, err)

	record.Data["body"] = "v2"
	updated, err := c.Update(ctx, record)
	require.NoError(t, err)
	require.Equal(t, "v2", updated.Data["body"])
	require.NotEqual(t, record.Meta.Version, updated.Meta.Version)

	// Updating through the stale version must fail.
	record.Data["body"] = "v3"
	_, err = c.Update(ctx, record)
	require.True(t, trace.IsAlreadyExists(err), "expected conflict, got %v", err)
}

func TestDeleteWithStaleVersion(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	ctx := context.Background()

	record, err := c.Write(ctx, "doc", map[string]string{"body": "v1"}, nil)
	require.NoError(t, err)
	require.True(t, trace.IsAlreadyExists(c.Delete(ctx, record.Meta.RecordID, uuid.NewString())))
	require.NoError(t, c.Delete(ctx, record.Meta.RecordID, record.Meta.Version))
	_, err = c.Read(ctx, record.Meta.RecordID)
	require.True(t, trace.IsNotFound(err))
}

func TestShareThenReaderDecrypts(t *testing.T) {
	f := newFakeServer(t)
	alice := f.newClient(t)
	bob := f.newClient(t)
	ctx := context.Background()

	record, err := alice.Write(ctx, "shared-doc", map[string]string{"secret": "s3cret"}, nil)
	require.NoError(t, err)
	require.NoError(t, alice.Share(ctx, "shared-doc", bob.ClientID()))

	read, err := bob.Read(ctx, record.Meta.RecordID)
	require.NoError(t, err)
	require.Equal(t, "s3cret", read.Data["secret"])
}

func TestShareWithSelfIsNoop(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	require.NoError(t, c.Share(context.Background(), "doc", c.ClientID()))
}

func TestShareBeforeFirstWrite(t *testing.T) {
	f := newFakeServer(t)
	alice := f.newClient(t)
	bob := f.newClient(t)
	ctx := context.Background()

	// Sharing a type with no records mints the access key up front.
	require.NoError(t, alice.Share(ctx, "future-doc", bob.ClientID()))
	record, err := alice.Write(ctx, "future-doc", map[string]string{"k": "v"}, nil)
	require.NoError(t, err)

	read, err := bob.Read(ctx, record.Meta.RecordID)
	require.NoError(t, err)
	require.Equal(t, "v", read.Data["k"])
}

func TestRevokeRemovesAccess(t *testing.T) {
	f := newFakeServer(t)
	alice := f.newClient(t)
	bob := f.newClient(t)
	ctx := context.Background()

	record, err := alice.Write(ctx, "doc", map[string]string{"k": "v"}, nil)
	require.NoError(t, err)
	require.NoError(t, alice.Share(ctx, "doc", bob.ClientID()))
	_, err = bob.Read(ctx, record.Meta.RecordID)
	require.NoError(t, err)

	require.NoError(t, alice.Revoke(ctx, "doc", bob.ClientID()))

	// A fresh session has no cached key and cannot decrypt anymore.
	bob2 := f.newClient(t)
	_, err = bob2.Read(ctx, record.Meta.RecordID)
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
}

func TestAuthorizerFlow(t *testing.T) {
	f := newFakeServer(t)
	writer := f.newClient(t)
	broker := f.newClient(t)
	reader := f.newClient(t)
	ctx := context.Background()

	record, err := writer.Write(ctx, "medical", map[string]string{"bp": "120/80"}, nil)
	require.NoError(t, err)

	require.NoError(t, writer.AddAuthorizer(ctx, "medical", broker.ClientID()))
	// Adding the same authorizer again succeeds without effect.
	require.NoError(t, writer.AddAuthorizer(ctx, "medical", broker.ClientID()))
	proxies, err := writer.GetAuthorizers(ctx)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	require.Equal(t, broker.ClientID(), proxies[0].AuthorizerID)

	require.NoError(t, broker.ShareOnBehalfOf(ctx, writer.ClientID(), "medical", reader.ClientID()))
	read, err := reader.Read(ctx, record.Meta.RecordID)
	require.NoError(t, err)
	require.Equal(t, "120/80", read.Data["bp"])

	// After removal the broker's delegate key is gone; further shares fail.
	require.NoError(t, writer.RemoveAuthorizer(ctx, "medical", broker.ClientID()))
	broker2 := f.newClient(t)
	err = broker2.ShareOnBehalfOf(ctx, writer.ClientID(), "medical", reader.ClientID())
	require.True(t, trace.IsNotFound(err), "expected NotFound, got %v", err)
}

func TestAccessKeyCaching(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	ctx := context.Background()

	_, err := c.Write(ctx, "doc", map[string]string{"k": "v"}, nil)
	require.NoError(t, err)

	key := akCacheKey{writerID: c.ClientID(), userID: c.ClientID(), recordType: "doc"}
	c.akMu.RLock()
	cached, ok := c.akCache[key]
	c.akMu.RUnlock()
	require.True(t, ok)
	require.Len(t, cached, cryptosuites.SymmetricKeySize)

	// Wipe the server-side EAK; reads keep working off the cache.
	f.mu.Lock()
	f.eaks = make(map[string]eakEntry)
	f.mu.Unlock()
	_, err = c.Write(ctx, "doc", map[string]string{"k": "v2"}, nil)
	require.NoError(t, err)
}

func TestClientInfoNotFound(t *testing.T) {
	f := newFakeServer(t)
	c := f.newClient(t)
	_, err := c.ClientInfo(context.Background(), uuid.New())
	require.True(t, trace.IsNotFound(err))
}

func TestConfigValidation(t *testing.T) {
	base := func() Config {
		pub, priv, err := GenerateKeyPair()
		require.NoError(t, err)
		return Config{
			ClientID:   uuid.New(),
			APIKeyID:   "key",
			APISecret:  "secret",
			PublicKey:  pub,
			PrivateKey: priv,
		}
	}
	for _, tt := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing client id", func(c *Config) { c.ClientID = uuid.Nil }},
		{"missing api key", func(c *Config) { c.APIKeyID = "" }},
		{"missing api secret", func(c *Config) { c.APISecret = "" }},
		{"missing public key", func(c *Config) { c.PublicKey = "" }},
		{"missing private key", func(c *Config) { c.PrivateKey = "" }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.True(t, trace.IsBadParameter(err), "expected BadParameter, got %v", err)
		})
	}

	cfg := base()
	require.NoError(t, cfg.CheckAndSetDefaults())
	require.Equal(t, "https://api.e3db.com", cfg.APIURL)
	require.NotNil(t, cfg.Suite)
}
