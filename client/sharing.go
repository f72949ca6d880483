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

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/tozstore/e3db-go/types"
)

// Share grants readerID the ability to read records of recordType written
// by this client: it wraps the type's access key for the reader and
// registers an allow-read policy. Sharing with oneself is a no-op. If no
// records of the type have been written yet a fresh access key is minted
// so the grant survives the first write.
func (c *Client) Share(ctx context.Context, recordType string, readerID uuid.UUID) error {
	if readerID == c.cfg.ClientID {
		return nil
	}
	id := c.cfg.ClientID
	ak, err := c.getOrCreateAccessKey(ctx, id, id, recordType)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := c.putAccessKey(ctx, id, id, readerID, recordType, ak); err != nil {
		return trace.Wrap(err)
	}
	c.log.DebugContext(ctx, "sharing record type", "record_type", recordType, "reader_id", readerID)
	return trace.Wrap(c.putPolicy(ctx, id, id, readerID, recordType, types.AllowRead()))
}

// Revoke withdraws readerID's access to records of recordType written by
// this client: a deny-read policy plus removal of the reader's wrapped
// access key. Revoking from oneself is a no-op.
func (c *Client) Revoke(ctx context.Context, recordType string, readerID uuid.UUID) error {
	if readerID == c.cfg.ClientID {
		return nil
	}
	id := c.cfg.ClientID
	if err := c.putPolicy(ctx, id, id, readerID, recordType, types.DenyRead()); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.deleteAccessKey(ctx, id, id, readerID, recordType))
}

// ShareOnBehalfOf lets an authorizer extend a writer's grant: it re-wraps
// the writer's access key for readerID and registers an allow-read policy
// on the writer's records. Fails with a not-found error when this client
// holds no key for the writer's record type, which is the observable shape
// of a revoked or never-granted authorization.
func (c *Client) ShareOnBehalfOf(ctx context.Context, writerID uuid.UUID, recordType string, readerID uuid.UUID) error {
	ak, err := c.getAccessKey(ctx, writerID, writerID, c.cfg.ClientID, recordType)
	if err != nil {
		return trace.Wrap(err)
	}
	if ak == nil {
		return trace.NotFound("no access key for records of type %q written by %s", recordType, writerID)
	}
	if err := c.putAccessKey(ctx, writerID, writerID, readerID, recordType, ak); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.putPolicy(ctx, writerID, writerID, readerID, recordType, types.AllowRead()))
}

// RevokeOnBehalfOf withdraws a reader grant previously made on a writer's
// behalf.
func (c *Client) RevokeOnBehalfOf(ctx context.Context, writerID uuid.UUID, recordType string, readerID uuid.UUID) error {
	if err := c.putPolicy(ctx, writerID, writerID, readerID, recordType, types.DenyRead()); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.deleteAccessKey(ctx, writerID, writerID, readerID, recordType))
}

// AddAuthorizer lets authorizerID share records of recordType on this
// client's behalf. Idempotent: adding an existing authorizer succeeds
// without touching the server-side policy again.
func (c *Client) AddAuthorizer(ctx context.Context, recordType string, authorizerID uuid.UUID) error {
	if authorizerID == c.cfg.ClientID {
		return nil
	}
	existing, err := c.GetAuthorizers(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, p := range existing {
		if p.AuthorizerID == authorizerID && p.RecordType == recordType {
			return nil
		}
	}
	id := c.cfg.ClientID
	ak, err := c.getOrCreateAccessKey(ctx, id, id, recordType)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := c.putAccessKey(ctx, id, id, authorizerID, recordType, ak); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.putPolicy(ctx, id, id, authorizerID, recordType, types.AllowAuthorizer()))
}

// RemoveAuthorizer withdraws authorizerID's ability to share recordType on
// this client's behalf. The authorizer's wrapped key is removed, so any
// later ShareOnBehalfOf from them fails with a not-found error.
func (c *Client) RemoveAuthorizer(ctx context.Context, recordType string, authorizerID uuid.UUID) error {
	if authorizerID == c.cfg.ClientID {
		return nil
	}
	id := c.cfg.ClientID
	if err := c.putPolicy(ctx, id, id, authorizerID, recordType, types.DenyAuthorizer()); err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(c.deleteAccessKey(ctx, id, id, authorizerID, recordType))
}

// IncomingSharing lists grants other writers have extended to this client.
func (c *Client) IncomingSharing(ctx context.Context) ([]types.IncomingSharingPolicy, error) {
	re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint("v1", "storage", "policy", "incoming"), nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var policies []types.IncomingSharingPolicy
	if err := unmarshalResponse(re, &policies); err != nil {
		return nil, trace.Wrap(err)
	}
	return policies, nil
}

// OutgoingSharing lists grants this client has extended to other readers.
func (c *Client) OutgoingSharing(ctx context.Context) ([]types.OutgoingSharingPolicy, error) {
	re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint("v1", "storage", "policy", "outgoing"), nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var policies []types.OutgoingSharingPolicy
	if err := unmarshalResponse(re, &policies); err != nil {
		return nil, trace.Wrap(err)
	}
	return policies, nil
}

// GetAuthorizers lists the clients this one has authorized to share on its
// behalf.
func (c *Client) GetAuthorizers(ctx context.Context) ([]types.AuthorizerPolicy, error) {
	re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint("v1", "storage", "policy", "proxies"), nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var policies []types.AuthorizerPolicy
	if err := unmarshalResponse(re, &policies); err != nil {
		return nil, trace.Wrap(err)
	}
	return policies, nil
}

// GetAuthorizedBy lists the writers that have authorized this client to
// share on their behalf.
func (c *Client) GetAuthorizedBy(ctx context.Context) ([]types.AuthorizerPolicy, error) {
	re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint("v1", "storage", "policy", "granted"), nil))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var policies []types.AuthorizerPolicy
	if err := unmarshalResponse(re, &policies); err != nil {
		return nil, trace.Wrap(err)
	}
	return policies, nil
}

// putPolicy registers a sharing policy for the (user, writer, reader,
// type) tuple.
func (c *Client) putPolicy(ctx context.Context, userID, writerID, readerID uuid.UUID, recordType string, policy types.Policy) error {
	_, err := convertResponse(c.clt.PutJSON(ctx, c.clt.Endpoint(
		"v1", "storage", "policy",
		userID.String(), writerID.String(), readerID.String(), recordType), policy))
	return trace.Wrap(err)
}
