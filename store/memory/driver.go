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

// Package memory implements the store.Driver contract in process memory.
// It is the reference implementation for the driver semantics: conditional
// writes, idempotent deletes, and single-partition atomic batches. Used by
// unit tests and by embedded callers that do not need persistence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cardinalhq/docstore/internal/idgen"
	"github.com/cardinalhq/docstore/store"
)

type partitionKey struct {
	kind      store.Kind
	partition string
}

// Driver is an in-memory store.Driver. Safe for concurrent use.
type Driver struct {
	mu    sync.RWMutex
	parts map[partitionKey]map[string]store.Document
	ids   *idgen.Generator
	now   func() time.Time
}

var _ store.Driver = (*Driver)(nil)

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		parts: make(map[partitionKey]map[string]store.Document),
		ids:   idgen.NewGenerator(),
		now:   time.Now,
	}
}

func (d *Driver) partitionLocked(kind store.Kind, partition string) map[string]store.Document {
	pk := partitionKey{kind: kind, partition: partition}
	p, ok := d.parts[pk]
	if !ok {
		p = make(map[string]store.Document)
		d.parts[pk] = p
	}
	return p
}

func (d *Driver) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	part := d.partitionLocked(doc.Kind, doc.PartitionKey)
	if _, exists := part[doc.ID]; exists {
		return store.Document{}, fmt.Errorf("%w: %s/%s in %s", store.ErrConflict, doc.Kind, doc.ID, doc.PartitionKey)
	}
	now := d.now().UTC()
	doc = doc.Clone()
	doc.ChangeTag = d.ids.Next()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	part[doc.ID] = doc
	return doc.Clone(), nil
}

func (d *Driver) Read(ctx context.Context, kind store.Kind, partition, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.parts[partitionKey{kind: kind, partition: partition}][id]
	if !ok {
		return store.Document{}, fmt.Errorf("%w: %s/%s in %s", store.ErrNotFound, kind, id, partition)
	}
	return doc.Clone(), nil
}

func (d *Driver) ReadIfModified(ctx context.Context, kind store.Kind, partition, id, tag string) (store.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.parts[partitionKey{kind: kind, partition: partition}][id]
	if !ok {
		return store.Document{}, false, fmt.Errorf("%w: %s/%s in %s", store.ErrNotFound, kind, id, partition)
	}
	if doc.ChangeTag == tag {
		return store.Document{}, false, nil
	}
	return doc.Clone(), true, nil
}

func (d *Driver) Upsert(ctx context.Context, doc store.Document, ifMatch string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upsertLocked(doc, ifMatch)
}

func (d *Driver) upsertLocked(doc store.Document, ifMatch string) (store.Document, error) {
	part := d.partitionLocked(doc.Kind, doc.PartitionKey)
	cur, exists := part[doc.ID]
	if ifMatch != "" {
		if !exists {
			return store.Document{}, fmt.Errorf("%w: %s/%s in %s", store.ErrNotFound, doc.Kind, doc.ID, doc.PartitionKey)
		}
		if cur.ChangeTag != ifMatch {
			return store.Document{}, fmt.Errorf("%w: %s/%s in %s", store.ErrPreconditionFailed, doc.Kind, doc.ID, doc.PartitionKey)
		}
	}
	now := d.now().UTC()
	doc = doc.Clone()
	doc.ChangeTag = d.ids.Next()
	doc.UpdatedAt = now
	if exists {
		doc.CreatedAt = cur.CreatedAt
	} else {
		doc.CreatedAt = now
	}
	part[doc.ID] = doc
	return doc.Clone(), nil
}

func (d *Driver) Delete(ctx context.Context, kind store.Kind, partition, id string) (store.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pk := partitionKey{kind: kind, partition: partition}
	doc, ok := d.parts[pk][id]
	if !ok {
		return store.Document{}, false, nil
	}
	delete(d.parts[pk], id)
	return doc.Clone(), true, nil
}

// Query snapshots the matching documents under the read lock; iteration
// happens over the snapshot, so concurrent writes never invalidate an
// iterator and restarting the query is just calling it again.
func (d *Driver) Query(ctx context.Context, kind store.Kind, partition string, pred store.Predicate) store.Iterator {
	d.mu.RLock()
	defer d.mu.RUnlock()

	part := d.parts[partitionKey{kind: kind, partition: partition}]
	docs := make([]store.Document, 0, len(part))
	for _, doc := range part {
		if pred == nil || pred.Matches(doc.Body) {
			docs = append(docs, doc.Clone())
		}
	}
	// Map iteration order is random; sort for stable, restartable results.
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return store.NewSliceIterator(docs)
}

func (d *Driver) Batch(kind store.Kind, partition string) store.Batch {
	return &batch{drv: d, kind: kind, partition: partition}
}

// Len reports the number of documents of a kind in a partition.
func (d *Driver) Len(kind store.Kind, partition string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.parts[partitionKey{kind: kind, partition: partition}])
}
