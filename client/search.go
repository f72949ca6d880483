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

	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/types"
)

// Search runs one page of a v2 search and decrypts any returned data.
// A NextToken of zero in the result means the final page; otherwise pass
// it back as s.NextToken to continue. The v2 engine indexes plain metadata
// only; field data never leaves the client unencrypted, so Values and Keys
// terms match plain tags, not record contents.
func (c *Client) Search(ctx context.Context, s types.Search) (*types.SearchResult, error) {
	re, err := convertResponse(c.clt.PostJSON(ctx, c.clt.Endpoint("v2", "search"), s))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var resp types.SearchResponse
	if err := unmarshalResponse(re, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	// A null results array is how the server spells "no matches".
	records, err := c.decryptSearchRecords(ctx, resp.Results, s.IncludeData)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &types.SearchResult{
		Records:      records,
		NextToken:    resp.LastIndex,
		SearchID:     resp.SearchID,
		TotalResults: resp.TotalResults,
	}, nil
}
