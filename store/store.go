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
	"context"
	"fmt"
)

// EventOp classifies a post-write notification.
type EventOp string

const (
	OpCreate EventOp = "create"
	OpUpdate EventOp = "update"
	OpDelete EventOp = "delete"
)

// Event describes a committed write.
type Event struct {
	Op       EventOp
	Document Document
}

// EventSink receives events after a successful write. Delivery is
// best-effort and never rolls back the committed write, so Publish returns
// nothing.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// ValidateFunc checks a document before it is written. Owned by the
// validation subsystem; the store invokes it before every create and upsert
// and wraps failures in ErrValidation.
type ValidateFunc func(doc Document) error

// Store is the typed access front over a Driver. It derives partition keys,
// runs the validation hook before writes, and publishes events after
// successful writes. All invariant-preserving wrappers (guard, mutate) are
// built on top of it.
type Store struct {
	drv      Driver
	validate ValidateFunc
	sink     EventSink
}

// Option configures a Store.
type Option func(*Store)

// WithValidator installs the pre-write validation hook.
func WithValidator(fn ValidateFunc) Option {
	return func(s *Store) { s.validate = fn }
}

// WithEventSink installs the post-write event sink.
func WithEventSink(sink EventSink) Option {
	return func(s *Store) { s.sink = sink }
}

// New creates a Store over a driver.
func New(drv Driver, opts ...Option) *Store {
	s := &Store{drv: drv}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver exposes the underlying driver. Batches obtained here bypass
// validation and notification; prefer Store.Batch.
func (s *Store) Driver() Driver { return s.drv }

func (s *Store) runValidate(doc Document) error {
	if s.validate == nil {
		return nil
	}
	if err := s.validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, op EventOp, doc Document) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(ctx, Event{Op: op, Document: doc})
}

// prepare derives and stamps the partition key. An already-set key must
// agree with the derivation; a mismatch means the caller is holding a
// document from a different partition rule version.
func (s *Store) prepare(doc Document) (Document, error) {
	pk, err := PartitionKeyFor(doc.Kind, doc.ID, doc.Body)
	if err != nil {
		return Document{}, err
	}
	if doc.PartitionKey != "" && doc.PartitionKey != pk {
		return Document{}, fmt.Errorf("document partition key %q does not match derived key %q", doc.PartitionKey, pk)
	}
	doc.PartitionKey = pk
	return doc, nil
}

// Create validates and inserts a new document, then publishes a create
// event. Returns ErrConflict if the id already exists in the partition.
func (s *Store) Create(ctx context.Context, doc Document) (Document, error) {
	doc, err := s.prepare(doc)
	if err != nil {
		return Document{}, err
	}
	if err := s.runValidate(doc); err != nil {
		return Document{}, err
	}
	created, err := s.drv.Create(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	s.publish(ctx, OpCreate, created)
	return created, nil
}

// Read returns the document or ErrNotFound.
func (s *Store) Read(ctx context.Context, kind Kind, partition, id string) (Document, error) {
	return s.drv.Read(ctx, kind, partition, id)
}

// ReadIfModified forwards the conditional read to the driver.
func (s *Store) ReadIfModified(ctx context.Context, kind Kind, partition, id, tag string) (Document, bool, error) {
	return s.drv.ReadIfModified(ctx, kind, partition, id, tag)
}

// Upsert validates and creates-or-replaces the document, then publishes an
// update event. See Driver.Upsert for ifMatch semantics.
func (s *Store) Upsert(ctx context.Context, doc Document, ifMatch string) (Document, error) {
	doc, err := s.prepare(doc)
	if err != nil {
		return Document{}, err
	}
	if err := s.runValidate(doc); err != nil {
		return Document{}, err
	}
	written, err := s.drv.Upsert(ctx, doc, ifMatch)
	if err != nil {
		return Document{}, err
	}
	s.publish(ctx, OpUpdate, written)
	return written, nil
}

// Delete removes the document idempotently, publishing a delete event only
// when something was actually removed.
func (s *Store) Delete(ctx context.Context, kind Kind, partition, id string) (Document, bool, error) {
	deleted, existed, err := s.drv.Delete(ctx, kind, partition, id)
	if err != nil {
		return Document{}, false, err
	}
	if existed {
		s.publish(ctx, OpDelete, deleted)
	}
	return deleted, existed, nil
}

// Query returns a lazy iterator over matching documents in the partition.
func (s *Store) Query(ctx context.Context, kind Kind, partition string, pred Predicate) Iterator {
	return s.drv.Query(ctx, kind, partition, pred)
}

// QueryAll drains a query into a slice.
func (s *Store) QueryAll(ctx context.Context, kind Kind, partition string, pred Predicate) ([]Document, error) {
	it := s.Query(ctx, kind, partition, pred)
	defer it.Close()
	var docs []Document
	for it.Next(ctx) {
		docs = append(docs, it.Document())
	}
	return docs, it.Err()
}

// Batch opens a partition-scoped transactional batch that validates queued
// documents and publishes their events only after a successful commit.
func (s *Store) Batch(kind Kind, partition string) *NotifyingBatch {
	return &NotifyingBatch{
		store:     s,
		inner:     s.drv.Batch(kind, partition),
		kind:      kind,
		partition: partition,
	}
}

// NotifyingBatch wraps a driver batch with validation and post-commit event
// fan-out. Events fire per queued operation, in queue order, only after the
// whole batch commits.
type NotifyingBatch struct {
	store     *Store
	inner     Batch
	kind      Kind
	partition string
	events    []Event
	queueErr  error
}

// Create queues an insert.
func (b *NotifyingBatch) Create(doc Document) {
	doc, err := b.prepareDoc(doc)
	if err != nil {
		b.fail(err)
		return
	}
	b.inner.Create(doc)
	b.events = append(b.events, Event{Op: OpCreate, Document: doc})
}

// Upsert queues a create-or-replace, optionally change-tag conditioned.
func (b *NotifyingBatch) Upsert(doc Document, ifMatch string) {
	doc, err := b.prepareDoc(doc)
	if err != nil {
		b.fail(err)
		return
	}
	b.inner.Upsert(doc, ifMatch)
	b.events = append(b.events, Event{Op: OpUpdate, Document: doc})
}

// Delete queues a removal. The event is resolved at commit time against
// the pre-commit copy; see Commit.
func (b *NotifyingBatch) Delete(id string) {
	b.inner.Delete(id)
	b.events = append(b.events, Event{Op: OpDelete, Document: Document{
		Kind:         b.kind,
		ID:           id,
		PartitionKey: b.partition,
	}})
}

// Len reports the number of queued operations.
func (b *NotifyingBatch) Len() int { return b.inner.Len() }

// Commit applies the batch all-or-nothing and publishes queued events on
// success. Delete events carry the removed copy and, matching Store.Delete,
// an id that was absent before the commit publishes nothing.
func (b *NotifyingBatch) Commit(ctx context.Context) error {
	if b.queueErr != nil {
		return b.queueErr
	}
	events := make([]Event, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Op == OpDelete {
			cur, err := b.store.Read(ctx, b.kind, b.partition, ev.Document.ID)
			if err != nil {
				continue
			}
			ev.Document = cur
		}
		events = append(events, ev)
	}
	if err := b.inner.Commit(ctx); err != nil {
		return err
	}
	for _, ev := range events {
		b.store.publish(ctx, ev.Op, ev.Document)
	}
	return nil
}

func (b *NotifyingBatch) prepareDoc(doc Document) (Document, error) {
	doc, err := b.store.prepare(doc)
	if err != nil {
		return Document{}, err
	}
	if doc.PartitionKey != b.partition {
		return Document{}, fmt.Errorf("%w: document %s/%s belongs to %q, batch is scoped to %q",
			ErrCrossPartitionBatch, doc.Kind, doc.ID, doc.PartitionKey, b.partition)
	}
	if err := b.store.runValidate(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (b *NotifyingBatch) fail(err error) {
	if b.queueErr == nil {
		b.queueErr = err
	}
}
