// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a document type. The kind determines the partition-key
// strategy and whether the default-singleton invariant applies. The set of
// kinds is closed; adding one requires a partition rule in PartitionKeyFor.
type Kind string

const (
	// KindStorageProfile is an organization's storage profile. Partitioned by
	// organization, singleton-default: exactly one default profile per org.
	KindStorageProfile Kind = "storage_profile"

	// KindUserProfile is a user document holding the user's organization
	// memberships. All user profiles share one global partition.
	KindUserProfile Kind = "user_profile"

	// KindSchedule is a recurring run schedule, partitioned by organization.
	KindSchedule Kind = "schedule"

	// KindOrgSettings is an organization's settings blob. Partitioned by the
	// document's own id, so each settings document is alone in its partition.
	KindOrgSettings Kind = "org_settings"
)

const (
	userPartition = "global/users"

	// FieldOrganizationID is the body field partition derivation reads for
	// organization-scoped kinds. Changing this after data exists is a
	// migration, not an edit.
	FieldOrganizationID = "organization_id"
)

// Document is the persisted envelope. Body carries the kind-specific payload
// as decoded JSON; the envelope fields are common to every kind.
type Document struct {
	Kind         Kind
	ID           string
	PartitionKey string

	// ChangeTag is an opaque version token assigned by the store on every
	// write. Empty on documents that were never read from or written to the
	// store. Used as the If-Match value for conditional writes.
	ChangeTag string

	Body map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PartitionKeyFor derives the partition key for a document. It is a pure
// function of the kind and the document's own fields, and must be identical
// on read and write paths: a divergent derivation silently produces
// "not found".
//
// Strategies, per kind:
//
//	storage_profile, schedule  org/<organization_id body field>
//	user_profile               the shared global/users partition
//	org_settings               org-settings/<document id>
func PartitionKeyFor(kind Kind, id string, body map[string]any) (string, error) {
	switch kind {
	case KindStorageProfile, KindSchedule:
		org, _ := body[FieldOrganizationID].(string)
		if org == "" {
			return "", fmt.Errorf("%s: body field %q is required to derive the partition key", kind, FieldOrganizationID)
		}
		return "org/" + org, nil
	case KindUserProfile:
		return userPartition, nil
	case KindOrgSettings:
		if id == "" {
			return "", fmt.Errorf("%s: document id is required to derive the partition key", kind)
		}
		return "org-settings/" + id, nil
	default:
		return "", fmt.Errorf("unknown document kind %q", kind)
	}
}

// OrgPartition returns the partition key shared by an organization's
// org-scoped documents.
func OrgPartition(organizationID string) string {
	return "org/" + organizationID
}

// UserPartition returns the global partition holding all user profiles.
func UserPartition() string {
	return userPartition
}

// MarshalBody converts a typed payload into the decoded-JSON form Document
// bodies use. Round-tripping through JSON keeps the representation identical
// to what a driver returns after persistence.
func MarshalBody(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("unmarshal body: %w", err)
	}
	return body, nil
}

// UnmarshalBody decodes a document body into a typed payload.
func UnmarshalBody(doc Document, v any) error {
	raw, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal body into %T: %w", v, err)
	}
	return nil
}

// CloneBody returns a deep copy of a document body. Drivers hand out clones
// so callers cannot mutate stored state through aliased maps.
func CloneBody(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return CloneBody(tv)
	case []any:
		out := make([]any, len(tv))
		for i, e := range tv {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	d.Body = CloneBody(d.Body)
	return d
}
