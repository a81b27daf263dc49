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
)

// Driver is the backend contract. Implementations provide per-partition
// atomic batches and change-tag conditioned writes; everything above this
// interface (validation, invariants, caching, notification) is backend
// agnostic.
type Driver interface {
	// Create inserts a new document. Returns ErrConflict if a document with
	// the same id already exists in the partition.
	Create(ctx context.Context, doc Document) (Document, error)

	// Read returns the document or ErrNotFound.
	Read(ctx context.Context, kind Kind, partition, id string) (Document, error)

	// ReadIfModified returns (doc, true) when the stored change tag differs
	// from tag, and (zero, false) when it matches, skipping body decoding.
	// Returns ErrNotFound if the document is absent.
	ReadIfModified(ctx context.Context, kind Kind, partition, id, tag string) (Document, bool, error)

	// Upsert creates or fully replaces the document. With an empty ifMatch
	// the write is last-writer-wins. With ifMatch set, the write succeeds
	// only when the stored change tag matches (ErrPreconditionFailed
	// otherwise, ErrNotFound if the document no longer exists).
	Upsert(ctx context.Context, doc Document, ifMatch string) (Document, error)

	// Delete removes the document, returning the deleted snapshot and true,
	// or a zero document and false if it was already absent. Never an error
	// on double delete.
	Delete(ctx context.Context, kind Kind, partition, id string) (Document, bool, error)

	// Query returns a lazy, restartable iterator over the partition's
	// documents of the kind matching pred. A nil pred matches everything.
	Query(ctx context.Context, kind Kind, partition string, pred Predicate) Iterator

	// Batch opens a transactional batch scoped to one partition.
	Batch(kind Kind, partition string) Batch
}

// Iterator walks a query result set lazily, in the style of pgx rows.
// Callers may stop early; documents already yielded remain valid. Close is
// idempotent.
type Iterator interface {
	Next(ctx context.Context) bool
	Document() Document
	Err() error
	Close()
}

// Batch accumulates create/upsert/delete operations against documents in a
// single partition and commits them atomically: either every queued
// operation applies or none does. Queued operations are validated for
// partition membership when queued; Commit reports the first queueing error
// without touching the store.
type Batch interface {
	Create(doc Document)
	Upsert(doc Document, ifMatch string)
	Delete(id string)

	// Len reports the number of queued operations.
	Len() int

	// Commit applies the batch all-or-nothing. After Commit the batch is
	// spent and must not be reused.
	Commit(ctx context.Context) error
}

// sliceIterator adapts an in-memory snapshot to the Iterator contract.
// Shared by the memory driver and by batch previews.
type sliceIterator struct {
	docs []Document
	idx  int
	err  error
}

// NewSliceIterator returns an Iterator over a fixed snapshot.
func NewSliceIterator(docs []Document) Iterator {
	return &sliceIterator{docs: docs, idx: -1}
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if it.idx+1 >= len(it.docs) {
		return false
	}
	it.idx++
	return true
}

func (it *sliceIterator) Document() Document {
	return it.docs[it.idx]
}

func (it *sliceIterator) Err() error {
	return it.err
}

func (it *sliceIterator) Close() {}
