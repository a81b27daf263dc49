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

package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/docstore/store"
	"github.com/cardinalhq/docstore/store/memory"
)

type recordingSink struct {
	events []store.Event
}

func (r *recordingSink) Publish(_ context.Context, ev store.Event) {
	r.events = append(r.events, ev)
}

func profileDoc(id string) store.Document {
	return store.Document{
		Kind: store.KindStorageProfile,
		ID:   id,
		Body: map[string]any{store.FieldOrganizationID: "org-1", "bucket": "b"},
	}
}

func TestCreateDerivesPartitionAndNotifies(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := store.New(memory.New(), store.WithEventSink(sink))

	created, err := s.Create(ctx, profileDoc("p1"))
	require.NoError(t, err)
	assert.Equal(t, store.OrgPartition("org-1"), created.PartitionKey)

	require.Len(t, sink.events, 1)
	assert.Equal(t, store.OpCreate, sink.events[0].Op)
	assert.Equal(t, "p1", sink.events[0].Document.ID)
}

func TestValidationBlocksWrites(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := store.New(memory.New(),
		store.WithEventSink(sink),
		store.WithValidator(func(doc store.Document) error {
			if doc.Body["bucket"] == "" {
				return errors.New("bucket is required")
			}
			return nil
		}))

	bad := profileDoc("p1")
	bad.Body["bucket"] = ""
	_, err := s.Create(ctx, bad)
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = s.Upsert(ctx, bad, "")
	require.ErrorIs(t, err, store.ErrValidation)

	// Nothing written, nothing notified.
	_, err = s.Read(ctx, store.KindStorageProfile, store.OrgPartition("org-1"), "p1")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, sink.events)
}

func TestDeleteNotifiesOnlyWhenPresent(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := store.New(memory.New(), store.WithEventSink(sink))

	created, err := s.Create(ctx, profileDoc("p1"))
	require.NoError(t, err)

	_, existed, err := s.Delete(ctx, created.Kind, created.PartitionKey, created.ID)
	require.NoError(t, err)
	require.True(t, existed)

	_, existed, err = s.Delete(ctx, created.Kind, created.PartitionKey, created.ID)
	require.NoError(t, err)
	require.False(t, existed)

	var ops []store.EventOp
	for _, ev := range sink.events {
		ops = append(ops, ev.Op)
	}
	assert.Equal(t, []store.EventOp{store.OpCreate, store.OpDelete}, ops)
}

func TestBatchNotifiesAfterCommitOnly(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := store.New(memory.New(), store.WithEventSink(sink))

	batch := s.Batch(store.KindStorageProfile, store.OrgPartition("org-1"))
	batch.Create(profileDoc("p1"))
	batch.Create(profileDoc("p2"))
	assert.Empty(t, sink.events, "no events before commit")

	require.NoError(t, batch.Commit(ctx))
	require.Len(t, sink.events, 2)
	assert.Equal(t, "p1", sink.events[0].Document.ID)
	assert.Equal(t, "p2", sink.events[1].Document.ID)
}

func TestBatchDeleteNotifiesOnlyWhenPresent(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := store.New(memory.New(), store.WithEventSink(sink))

	created, err := s.Create(ctx, profileDoc("p1"))
	require.NoError(t, err)
	sink.events = nil

	batch := s.Batch(store.KindStorageProfile, store.OrgPartition("org-1"))
	batch.Delete("p1")
	batch.Delete("ghost")
	require.NoError(t, batch.Commit(ctx))

	// Only the id that actually existed produces an event, and the event
	// carries the removed copy.
	require.Len(t, sink.events, 1)
	assert.Equal(t, store.OpDelete, sink.events[0].Op)
	assert.Equal(t, "p1", sink.events[0].Document.ID)
	assert.Equal(t, created.ChangeTag, sink.events[0].Document.ChangeTag)
}

func TestFailedBatchNotifiesNothing(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := store.New(memory.New(), store.WithEventSink(sink))

	_, err := s.Create(ctx, profileDoc("p1"))
	require.NoError(t, err)
	sink.events = nil

	batch := s.Batch(store.KindStorageProfile, store.OrgPartition("org-1"))
	batch.Create(profileDoc("p1")) // conflict
	batch.Create(profileDoc("p2"))
	require.ErrorIs(t, batch.Commit(ctx), store.ErrConflict)
	assert.Empty(t, sink.events)

	// p2 must not exist: all-or-nothing.
	_, err = s.Read(ctx, store.KindStorageProfile, store.OrgPartition("org-1"), "p2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBatchRejectsForeignPartition(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())

	other := store.Document{
		Kind: store.KindStorageProfile,
		ID:   "x",
		Body: map[string]any{store.FieldOrganizationID: "org-2"},
	}
	batch := s.Batch(store.KindStorageProfile, store.OrgPartition("org-1"))
	batch.Create(other)
	require.ErrorIs(t, batch.Commit(ctx), store.ErrCrossPartitionBatch)
}

func TestPartitionKeyMismatchRejected(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New())

	doc := profileDoc("p1")
	doc.PartitionKey = "org/other"
	_, err := s.Create(ctx, doc)
	require.Error(t, err)
}
