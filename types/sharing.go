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

// IncomingSharingPolicy names a writer that has shared a record type with
// this client.
type IncomingSharingPolicy struct {
	WriterID   uuid.UUID `json:"writer_id"`
	WriterName string    `json:"writer_name"`
	RecordType string    `json:"record_type"`
}

// OutgoingSharingPolicy names a reader this client has shared a record type
// with.
type OutgoingSharingPolicy struct {
	ReaderID   uuid.UUID `json:"reader_id"`
	ReaderName string    `json:"reader_name"`
	RecordType string    `json:"record_type"`
}

// AuthorizerPolicy records a grant allowing AuthorizerID to re-share
// records of RecordType written by WriterID for UserID, on the writer's
// behalf.
type AuthorizerPolicy struct {
	AuthorizerID   uuid.UUID `json:"authorizer_id"`
	AuthorizerName string    `json:"authorizer_name,omitempty"`
	WriterID       uuid.UUID `json:"writer_id"`
	UserID         uuid.UUID `json:"user_id"`
	RecordType     string    `json:"record_type"`
	AuthorizedBy   uuid.UUID `json:"authorized_by"`
}

// Policy is the document PUT to the policy endpoint. Exactly one of Allow
// or Deny is populated.
type Policy struct {
	Allow []PolicyRule `json:"allow,omitempty"`
	Deny  []PolicyRule `json:"deny,omitempty"`
}

// PolicyRule grants or denies a single capability. The empty struct values
// are intentional; the rule's meaning is carried by which field is non-nil.
type PolicyRule struct {
	Read       *struct{} `json:"read,omitempty"`
	Authorizer *struct{} `json:"authorizer,omitempty"`
}

// AllowRead is the policy document granting read access.
func AllowRead() Policy {
	return Policy{Allow: []PolicyRule{{Read: &struct{}{}}}}
}

// DenyRead is the policy document revoking read access.
func DenyRead() Policy {
	return Policy{Deny: []PolicyRule{{Read: &struct{}{}}}}
}

// AllowAuthorizer is the policy document granting authorizer rights.
func AllowAuthorizer() Policy {
	return Policy{Allow: []PolicyRule{{Authorizer: &struct{}{}}}}
}

// DenyAuthorizer is the policy document revoking authorizer rights.
func DenyAuthorizer() Policy {
	return Policy{Deny: []PolicyRule{{Authorizer: &struct{}{}}}}
}
