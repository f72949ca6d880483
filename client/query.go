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

// Query runs one page of a v1 record query and decrypts any returned data.
// Records the server could not attach an access key for come back with
// their data still encrypted only if this client also holds no key; in
// practice the server includes the caller's EAK per result and the data
// decrypts in place. Pass the returned LastIndex as q.AfterIndex to fetch
// the next page; a page shorter than q.Count is the final one.
func (c *Client) Query(ctx context.Context, q types.Query) (*types.QueryResult, error) {
	if q.Count == 0 {
		q.Count = types.DefaultQueryCount
	}
	re, err := convertResponse(c.clt.PostJSON(ctx, c.clt.Endpoint("v1", "storage", "search"), q))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var resp types.QueryResponse
	if err := unmarshalResponse(re, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Error != "" {
		return nil, trace.BadParameter("query rejected: %s", resp.Error)
	}
	records, err := c.decryptSearchRecords(ctx, resp.Results, q.IncludeData)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &types.QueryResult{
		Records:   records,
		LastIndex: resp.LastIndex,
	}, nil
}

// QueryAll pages through a v1 query until exhausted and returns every
// matching record. Intended for bounded result sets such as backups.
func (c *Client) QueryAll(ctx context.Context, q types.Query) ([]types.Record, error) {
	if q.Count == 0 {
		q.Count = types.DefaultQueryCount
	}
	var all []types.Record
	for {
		page, err := c.Query(ctx, q)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		all = append(all, page.Records...)
		if len(page.Records) < q.Count {
			return all, nil
		}
		q.AfterIndex = page.LastIndex
	}
}

// decryptSearchRecords turns raw search results into records, decrypting
// data with the per-result EAK when the server supplied one and falling
// back to the regular access-key path otherwise.
func (c *Client) decryptSearchRecords(ctx context.Context, results []types.SearchRecord, includeData bool) ([]types.Record, error) {
	records := make([]types.Record, 0, len(results))
	for _, result := range results {
		record := types.Record{Meta: result.Meta, Data: result.Data}
		if includeData && len(record.Data) > 0 {
			switch {
			case result.AccessKey != nil:
				ak, err := c.decryptEAK(result.AccessKey)
				if err != nil {
					return nil, trace.Wrap(err)
				}
				if err := decryptRecordWithKey(c.suite, &record, ak); err != nil {
					return nil, trace.Wrap(err)
				}
			default:
				if err := c.decryptRecord(ctx, &record); err != nil {
					return nil, trace.Wrap(err)
				}
			}
		}
		records = append(records, record)
	}
	return records, nil
}
