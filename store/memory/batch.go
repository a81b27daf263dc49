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

package memory

import (
	"context"
	"fmt"

	"github.com/cardinalhq/docstore/store"
)

type batchOp struct {
	op      store.EventOp
	doc     store.Document
	ifMatch string
	id      string
}

// batch implements store.Batch. Operations are staged and verified against
// the live state under one write lock at Commit; only when every
// precondition holds is the staged state swapped in. All-or-nothing, same
// partition only.
type batch struct {
	drv       *Driver
	kind      store.Kind
	partition string
	ops       []batchOp
	queueErr  error
	committed bool
}

func (b *batch) Create(doc store.Document) {
	if !b.checkPartition(doc) {
		return
	}
	b.ops = append(b.ops, batchOp{op: store.OpCreate, doc: doc.Clone(), id: doc.ID})
}

func (b *batch) Upsert(doc store.Document, ifMatch string) {
	if !b.checkPartition(doc) {
		return
	}
	b.ops = append(b.ops, batchOp{op: store.OpUpdate, doc: doc.Clone(), ifMatch: ifMatch, id: doc.ID})
}

func (b *batch) Delete(id string) {
	b.ops = append(b.ops, batchOp{op: store.OpDelete, id: id})
}

func (b *batch) Len() int { return len(b.ops) }

func (b *batch) checkPartition(doc store.Document) bool {
	if doc.Kind != b.kind || doc.PartitionKey != b.partition {
		if b.queueErr == nil {
			b.queueErr = fmt.Errorf("%w: document %s/%s in %q, batch is scoped to %s/%q",
				store.ErrCrossPartitionBatch, doc.Kind, doc.ID, doc.PartitionKey, b.kind, b.partition)
		}
		return false
	}
	return true
}

func (b *batch) Commit(ctx context.Context) error {
	if b.committed {
		return fmt.Errorf("batch already committed")
	}
	b.committed = true
	if b.queueErr != nil {
		return b.queueErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.drv.mu.Lock()
	defer b.drv.mu.Unlock()

	// Stage against a copy of the partition so a failed precondition leaves
	// the live state untouched.
	live := b.drv.partitionLocked(b.kind, b.partition)
	staged := make(map[string]store.Document, len(live))
	for id, doc := range live {
		staged[id] = doc
	}

	now := b.drv.now().UTC()
	for _, op := range b.ops {
		switch op.op {
		case store.OpCreate:
			if _, exists := staged[op.id]; exists {
				return fmt.Errorf("%w: %s/%s in %s", store.ErrConflict, b.kind, op.id, b.partition)
			}
			doc := op.doc
			doc.ChangeTag = b.drv.ids.Next()
			doc.CreatedAt = now
			doc.UpdatedAt = now
			staged[op.id] = doc
		case store.OpUpdate:
			cur, exists := staged[op.id]
			if op.ifMatch != "" {
				if !exists {
					return fmt.Errorf("%w: %s/%s in %s", store.ErrNotFound, b.kind, op.id, b.partition)
				}
				if cur.ChangeTag != op.ifMatch {
					return fmt.Errorf("%w: %s/%s in %s", store.ErrPreconditionFailed, b.kind, op.id, b.partition)
				}
			}
			doc := op.doc
			doc.ChangeTag = b.drv.ids.Next()
			doc.UpdatedAt = now
			if exists {
				doc.CreatedAt = cur.CreatedAt
			} else {
				doc.CreatedAt = now
			}
			staged[op.id] = doc
		case store.OpDelete:
			delete(staged, op.id)
		}
	}

	b.drv.parts[partitionKey{kind: b.kind, partition: b.partition}] = staged
	return nil
}
