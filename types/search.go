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
	"time"

	"github.com/google/uuid"
)

// Match conditions for v2 search params.
const (
	ConditionOR  = "OR"
	ConditionAND = "AND"
)

// Match strategies for v2 search params.
const (
	StrategyExact    = "EXACT"
	StrategyFuzzy    = "FUZZY"
	StrategyWildcard = "WILDCARD"
	StrategyRegexp   = "REGEXP"
)

// Range keys for v2 search time filters.
const (
	RangeKeyCreated  = "CREATED"
	RangeKeyModified = "MODIFIED"
)

// Search is the v2 search request POSTed to /v2/search. Zero-value Match,
// Exclude, and Range mean "no restriction".
type Search struct {
	Limit             int          `json:"limit"`
	NextToken         int          `json:"next_token"`
	IncludeAllWriters bool         `json:"include_all_writers"`
	IncludeData       bool         `json:"include_data"`
	Match             []Params     `json:"match"`
	Exclude           []Params     `json:"exclude"`
	Range             *SearchRange `json:"range,omitempty"`
}

// Params is one match or exclude clause: a condition joining term lists and
// the strategy used to compare them.
type Params struct {
	Condition string `json:"condition"`
	Strategy  string `json:"strategy"`
	Terms     Terms  `json:"terms"`
}

// Terms are the filterable fields of a v2 search clause.
type Terms struct {
	WriterIDs    []uuid.UUID       `json:"writer_ids,omitempty"`
	UserIDs      []uuid.UUID       `json:"user_ids,omitempty"`
	RecordIDs    []uuid.UUID       `json:"record_ids,omitempty"`
	ContentTypes []string          `json:"content_types,omitempty"`
	Keys         []string          `json:"keys,omitempty"`
	Values       []string          `json:"values,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// SearchRange restricts results to records created or modified within a
// time window. Times serialize as RFC3339 with zone offset.
type SearchRange struct {
	RangeKey string     `json:"range_key"`
	Before   *time.Time `json:"before,omitempty"`
	After    *time.Time `json:"after,omitempty"`
}

// SearchResponse is the raw v2 response body. Results may be null when
// nothing matched.
type SearchResponse struct {
	Results      []SearchRecord `json:"results"`
	LastIndex    int            `json:"last_index"`
	SearchID     string         `json:"search_id"`
	TotalResults int64          `json:"total_results"`
}

// SearchResult is one page of decrypted v2 search results.
type SearchResult struct {
	Records      []Record
	NextToken    int
	SearchID     string
	TotalResults int64
}
