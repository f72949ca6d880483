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

	"github.com/tozstore/e3db-go/cryptosuites"
	"github.com/tozstore/e3db-go/types"
)

// getAccessKey returns the access key for (writerID, userID, recordType)
// as readable by readerID, fetching and unwrapping the EAK on a cache
// miss. A (nil, nil) return means the server has no EAK for the tuple and
// the caller may create one. Concurrent misses for the same tuple share a
// single fetch.
func (c *Client) getAccessKey(ctx context.Context, writerID, userID, readerID uuid.UUID, recordType string) ([]byte, error) {
	key := akCacheKey{writerID: writerID, userID: userID, recordType: recordType}
	c.akMu.RLock()
	ak, ok := c.akCache[key]
	c.akMu.RUnlock()
	if ok {
		return ak, nil
	}

	v, err, _ := c.akGroup.Do(writerID.String()+userID.String()+readerID.String()+recordType, func() (any, error) {
		c.log.DebugContext(ctx, "access key cache miss",
			"writer_id", writerID, "user_id", userID, "record_type", recordType)
		re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint(
			"v1", "storage", "access_keys",
			writerID.String(), userID.String(), readerID.String(), recordType), nil))
		if err != nil {
			if trace.IsNotFound(err) {
				return []byte(nil), nil
			}
			return nil, trace.Wrap(err)
		}
		var block types.EAKBlock
		if err := unmarshalResponse(re, &block); err != nil {
			return nil, trace.Wrap(err)
		}
		ak, err := c.decryptEAK(&block)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		c.akMu.Lock()
		c.akCache[key] = ak
		c.akMu.Unlock()
		return ak, nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return v.([]byte), nil
}

// decryptEAK unwraps an encrypted access key using this client's private
// key and the authorizer public key carried on the block.
func (c *Client) decryptEAK(block *types.EAKBlock) ([]byte, error) {
	authorizerKey, err := block.AuthorizerPublicKey.KeyForLabel(c.suite.Mode().KeyLabel())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ciphertext, nonce, err := cryptosuites.DecodeEAK(block.EAK)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ak, err := c.suite.DecryptAccessKey(c.cfg.PrivateKey, authorizerKey, ciphertext, nonce)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return ak, nil
}

// putAccessKey wraps ak for readerID and uploads the EAK. The local cache
// is updated only when the reader is this client; wrapping a key for
// someone else grants nothing locally.
func (c *Client) putAccessKey(ctx context.Context, writerID, userID, readerID uuid.UUID, recordType string, ak []byte) error {
	if readerID == c.cfg.ClientID {
		key := akCacheKey{writerID: writerID, userID: userID, recordType: recordType}
		c.akMu.Lock()
		c.akCache[key] = ak
		c.akMu.Unlock()
	}

	readerKey, err := c.clientKey(ctx, readerID)
	if err != nil {
		return trace.Wrap(err)
	}
	nonce, err := c.suite.RandomNonce()
	if err != nil {
		return trace.Wrap(err)
	}
	eak, err := c.suite.EncryptAccessKey(c.cfg.PrivateKey, readerKey, ak, nonce)
	if err != nil {
		return trace.Wrap(err)
	}
	c.log.DebugContext(ctx, "uploading access key",
		"writer_id", writerID, "reader_id", readerID, "record_type", recordType)
	_, err = convertResponse(c.clt.PutJSON(ctx, c.clt.Endpoint(
		"v1", "storage", "access_keys",
		writerID.String(), userID.String(), readerID.String(), recordType),
		map[string]string{"eak": cryptosuites.EncodeEAK(eak, nonce)}))
	return trace.Wrap(err)
}

// deleteAccessKey removes readerID's EAK for the tuple. The local cache
// entry is dropped when the reader is this client, before the call
// returns, so a successful revoke is immediately visible in-process.
func (c *Client) deleteAccessKey(ctx context.Context, writerID, userID, readerID uuid.UUID, recordType string) error {
	if readerID == c.cfg.ClientID {
		key := akCacheKey{writerID: writerID, userID: userID, recordType: recordType}
		c.akMu.Lock()
		delete(c.akCache, key)
		c.akMu.Unlock()
	}
	_, err := convertResponse(c.clt.Delete(ctx, c.clt.Endpoint(
		"v1", "storage", "access_keys",
		writerID.String(), userID.String(), readerID.String(), recordType)))
	return trace.Wrap(err)
}

// ClientInfo fetches the public face of another client.
func (c *Client) ClientInfo(ctx context.Context, clientID uuid.UUID) (*types.ClientInfo, error) {
	re, err := convertResponse(c.clt.Get(ctx, c.clt.Endpoint(
		"v1", "storage", "clients", clientID.String()), nil))
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.NotFound("client %s not found", clientID)
		}
		return nil, trace.Wrap(err)
	}
	var info types.ClientInfo
	if err := unmarshalResponse(re, &info); err != nil {
		return nil, trace.Wrap(err)
	}
	return &info, nil
}

// clientKey returns the box public key to wrap keys for clientID: our own
// configured key when the reader is us, otherwise the key from the
// client-info endpoint.
func (c *Client) clientKey(ctx context.Context, clientID uuid.UUID) (string, error) {
	if clientID == c.cfg.ClientID {
		return c.cfg.PublicKey, nil
	}
	info, err := c.ClientInfo(ctx, clientID)
	if err != nil {
		return "", trace.Wrap(err)
	}
	key, err := info.PublicKey.KeyForLabel(c.suite.Mode().KeyLabel())
	if err != nil {
		return "", trace.Wrap(err)
	}
	return key, nil
}
