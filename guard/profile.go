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

package guard

import (
	"github.com/cardinalhq/docstore/store"
)

// StorageProfile is the singleton-default payload for
// store.KindStorageProfile: an organization's bucket configuration, of
// which exactly one per organization is the default write target.
type StorageProfile struct {
	OrganizationID string `json:"organization_id"`
	Bucket         string `json:"bucket"`
	Region         string `json:"region"`
	Endpoint       string `json:"endpoint,omitempty"`
	IsDefault      bool   `json:"is_default"`
}

// ProfileDocument builds the document envelope for a storage profile.
func ProfileDocument(id string, p StorageProfile) (store.Document, error) {
	body, err := store.MarshalBody(p)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{
		Kind: store.KindStorageProfile,
		ID:   id,
		Body: body,
	}, nil
}

// DecodeProfile extracts the typed payload from a profile document.
func DecodeProfile(doc store.Document) (StorageProfile, error) {
	var p StorageProfile
	if err := store.UnmarshalBody(doc, &p); err != nil {
		return StorageProfile{}, err
	}
	return p, nil
}
