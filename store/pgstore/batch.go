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

package pgstore

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

// batch runs queued operations in one transaction. A failed precondition
// anywhere rolls back everything; the partition constraint is enforced at
// queue time.
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
	b.ops = append(b.ops, batchOp{op: store.OpCreate, doc: doc, id: doc.ID})
}

func (b *batch) Upsert(doc store.Document, ifMatch string) {
	if !b.checkPartition(doc) {
		return
	}
	b.ops = append(b.ops, batchOp{op: store.OpUpdate, doc: doc, ifMatch: ifMatch, id: doc.ID})
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
	if len(b.ops) == 0 {
		return nil
	}

	tx, err := b.drv.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, op := range b.ops {
		switch op.op {
		case store.OpCreate:
			if _, err := createOn(ctx, tx, op.doc); err != nil {
				return err
			}
		case store.OpUpdate:
			if _, err := upsertOn(ctx, tx, op.doc, op.ifMatch); err != nil {
				return err
			}
		case store.OpDelete:
			if _, _, err := deleteOn(ctx, tx, b.kind, b.partition, op.id); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
