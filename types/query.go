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

import "github.com/google/uuid"

// DefaultQueryCount is the page size used when a query does not name one.
const DefaultQueryCount = 100

// Query is the v1 search request POSTed to /v1/storage/search. Empty lists
// mean "no restriction"; AfterIndex pages through results.
type Query struct {
	Count             int               `json:"count"`
	AfterIndex        int               `json:"after_index"`
	IncludeData       bool              `json:"include_data"`
	WriterIDs         []uuid.UUID       `json:"writer_ids"`
	UserIDs           []uuid.UUID       `json:"user_ids"`
	RecordIDs         []uuid.UUID       `json:"record_ids"`
	ContentTypes      []string          `json:"content_types"`
	Plain             map[string]string `json:"plain,omitempty"`
	IncludeAllWriters bool              `json:"include_all_writers"`
}

// QueryResult is one page of v1 query results. LastIndex feeds the next
// page's AfterIndex; a page shorter than the requested count is the last.
type QueryResult struct {
	Records   []Record
	LastIndex int
}

// SearchRecord is one raw v1/v2 result: record metadata, possibly
// encrypted data, and, when the server includes it, the EAK needed to
// decrypt without a separate access-key fetch.
type SearchRecord struct {
	Meta      Meta              `json:"meta"`
	Data      map[string]string `json:"record_data"`
	AccessKey *EAKBlock         `json:"access_key,omitempty"`
}

// QueryResponse is the raw v1 response body.
type QueryResponse struct {
	Results   []SearchRecord `json:"results"`
	LastIndex int            `json:"last_index"`
	Error     string         `json:"error,omitempty"`
}
