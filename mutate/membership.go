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

package mutate

import (
	"time"

	"github.com/cardinalhq/docstore/store"
)

// Membership is one organization membership record embedded in a user
// profile. The embedded collection is keyed by organization id, so a user
// holds at most one membership per organization by construction.
type Membership struct {
	OrganizationID string    `json:"organization_id"`
	Role           string    `json:"role"`
	AddedAt        time.Time `json:"added_at"`
}

// UserProfile is the membership-holder payload for store.KindUserProfile.
// It must be mutated through Mutator only; a plain upsert of the whole
// document can discard memberships added by concurrent callers.
type UserProfile struct {
	UserID      string                `json:"user_id"`
	DisplayName string                `json:"display_name"`
	Memberships map[string]Membership `json:"memberships"`
}

// ProfileDocument builds the document envelope for a user profile. The
// document id is the user id.
func ProfileDocument(p UserProfile) (store.Document, error) {
	body, err := store.MarshalBody(p)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{
		Kind: store.KindUserProfile,
		ID:   p.UserID,
		Body: body,
	}, nil
}

// DecodeProfile extracts the typed payload from a profile document.
func DecodeProfile(doc store.Document) (UserProfile, error) {
	var p UserProfile
	if err := store.UnmarshalBody(doc, &p); err != nil {
		return UserProfile{}, err
	}
	return p, nil
}

// AddMembership returns a mutation that inserts or replaces the membership
// for m.OrganizationID. Reports no change when an identical record is
// already present.
func AddMembership(m Membership) Func {
	return func(doc store.Document) (store.Document, bool, error) {
		p, err := DecodeProfile(doc)
		if err != nil {
			return store.Document{}, false, err
		}
		if p.Memberships == nil {
			p.Memberships = make(map[string]Membership)
		}
		if cur, ok := p.Memberships[m.OrganizationID]; ok && cur == m {
			return doc, false, nil
		}
		p.Memberships[m.OrganizationID] = m
		body, err := store.MarshalBody(p)
		if err != nil {
			return store.Document{}, false, err
		}
		doc.Body = body
		return doc, true, nil
	}
}

// RemoveMembership returns a mutation that drops the membership for the
// organization. Reports no change when no such membership exists.
func RemoveMembership(organizationID string) Func {
	return func(doc store.Document) (store.Document, bool, error) {
		p, err := DecodeProfile(doc)
		if err != nil {
			return store.Document{}, false, err
		}
		if _, ok := p.Memberships[organizationID]; !ok {
			return doc, false, nil
		}
		delete(p.Memberships, organizationID)
		body, err := store.MarshalBody(p)
		if err != nil {
			return store.Document{}, false, err
		}
		doc.Body = body
		return doc, true, nil
	}
}
