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

// Package guard enforces the default-singleton invariant: within a
// partition, at most one document of a kind carries the default flag, and
// if the partition holds any document of that kind, exactly one is default.
// Promotion and demotion of siblings happen in one atomic partition batch,
// so the invariant holds after every committed operation. Writers of
// singleton-default kinds must go through this package; a direct store
// write can break the invariant.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cardinalhq/docstore/store"
)

// DefaultField is the body field carrying the default flag.
const DefaultField = "is_default"

// maxApplyAttempts bounds the retry loop around invariant-preserving
// writes. Each attempt re-reads the partition's defaults, so a lost
// demotion race converges on the next pass.
const maxApplyAttempts = 8

// Guard wraps a store for one singleton-default kind.
type Guard struct {
	store *store.Store
	kind  store.Kind
	log   *slog.Logger
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger overrides the logger used for best-effort repair reporting.
func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) { g.log = log }
}

// New creates a Guard for kind over s.
func New(s *store.Store, kind store.Kind, opts ...Option) *Guard {
	g := &Guard{store: s, kind: kind, log: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsDefault reads the default flag from a document body.
func IsDefault(doc store.Document) bool {
	v, _ := doc.Body[DefaultField].(bool)
	return v
}

func setDefault(doc store.Document, v bool) store.Document {
	doc.Body = store.CloneBody(doc.Body)
	if doc.Body == nil {
		doc.Body = make(map[string]any)
	}
	doc.Body[DefaultField] = v
	return doc
}

// Create inserts a new document while preserving the invariant. The first
// document of the kind in a partition is forced default regardless of the
// caller's flag; later creations are non-default unless they promote, in
// which case the existing default is demoted in the same atomic batch.
func (g *Guard) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	return g.apply(ctx, doc, true)
}

// Upsert creates or replaces a document while preserving the invariant.
// Demoting the partition's current default without a promoted replacement
// fails with store.ErrInvariantViolation and leaves the store unchanged;
// the caller must promote a replacement first.
func (g *Guard) Upsert(ctx context.Context, doc store.Document) (store.Document, error) {
	return g.apply(ctx, doc, false)
}

// apply runs one invariant-preserving write, absorbing lost demotion races
// by re-reading the partition and retrying. A write whose own change tag is
// persistently stale exhausts the loop and surfaces as contention.
func (g *Guard) apply(ctx context.Context, doc store.Document, create bool) (store.Document, error) {
	if doc.Kind != g.kind {
		return store.Document{}, fmt.Errorf("guard for kind %s cannot write kind %s", g.kind, doc.Kind)
	}
	partition, err := store.PartitionKeyFor(doc.Kind, doc.ID, doc.Body)
	if err != nil {
		return store.Document{}, err
	}
	doc.PartitionKey = partition

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Document{}, err
		}
		written, err := g.applyOnce(ctx, doc, partition, create)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, store.ErrPreconditionFailed) {
			return store.Document{}, err
		}
	}
	return store.Document{}, fmt.Errorf("%w: %s/%s in %s after %d attempts",
		store.ErrTooMuchContention, g.kind, doc.ID, partition, maxApplyAttempts)
}

func (g *Guard) applyOnce(ctx context.Context, doc store.Document, partition string, create bool) (store.Document, error) {
	defaults, err := g.currentDefaults(ctx, partition)
	if err != nil {
		return store.Document{}, err
	}

	others := make([]store.Document, 0, len(defaults))
	for _, d := range defaults {
		if d.ID != doc.ID {
			others = append(others, d)
		}
	}

	switch {
	case len(defaults) == 0:
		// Partition has no default: this write must supply one.
		doc = setDefault(doc, true)
		return g.write(ctx, doc, create)

	case IsDefault(doc) && len(others) > 0:
		// Promotion: one atomic batch upserts the new default and demotes
		// every other default in the partition.
		batch := g.store.Batch(g.kind, partition)
		if create {
			batch.Create(doc)
		} else {
			batch.Upsert(doc, doc.ChangeTag)
		}
		for _, other := range others {
			batch.Upsert(setDefault(other, false), other.ChangeTag)
		}
		if err := batch.Commit(ctx); err != nil {
			return store.Document{}, err
		}
		return g.store.Read(ctx, g.kind, partition, doc.ID)

	case !IsDefault(doc) && len(others) == 0:
		// The caller is demoting the partition's only default.
		return store.Document{}, fmt.Errorf("%w: %s/%s is the only default in %s; promote a replacement first",
			store.ErrInvariantViolation, g.kind, doc.ID, partition)

	default:
		return g.write(ctx, doc, create)
	}
}

// Delete removes a document while preserving the invariant. Deleting the
// partition's current default promotes the first remaining non-default
// sibling in the same atomic batch, so a non-empty partition never loses
// its default; deleting the last document leaves the partition empty.
// Idempotent like Store.Delete. Lost promotion races are absorbed the same
// way apply absorbs them.
func (g *Guard) Delete(ctx context.Context, partition, id string) (store.Document, bool, error) {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Document{}, false, err
		}
		deleted, existed, err := g.deleteOnce(ctx, partition, id)
		if err == nil {
			return deleted, existed, nil
		}
		if !errors.Is(err, store.ErrPreconditionFailed) {
			return store.Document{}, false, err
		}
	}
	return store.Document{}, false, fmt.Errorf("%w: delete %s/%s in %s after %d attempts",
		store.ErrTooMuchContention, g.kind, id, partition, maxApplyAttempts)
}

func (g *Guard) deleteOnce(ctx context.Context, partition, id string) (store.Document, bool, error) {
	doc, err := g.store.Read(ctx, g.kind, partition, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, false, nil
	}
	if err != nil {
		return store.Document{}, false, err
	}
	if !IsDefault(doc) {
		return g.store.Delete(ctx, g.kind, partition, id)
	}

	docs, err := g.store.QueryAll(ctx, g.kind, partition, nil)
	if err != nil {
		return store.Document{}, false, err
	}
	var successor store.Document
	promote := false
	for _, d := range docs {
		if d.ID == id {
			continue
		}
		if IsDefault(d) {
			// A sibling already carries the flag; the partition stays
			// covered without a promotion.
			promote = false
			break
		}
		if !promote {
			successor = d
			promote = true
		}
	}
	if !promote {
		return g.store.Delete(ctx, g.kind, partition, id)
	}

	batch := g.store.Batch(g.kind, partition)
	batch.Delete(id)
	batch.Upsert(setDefault(successor, true), successor.ChangeTag)
	if err := batch.Commit(ctx); err != nil {
		return store.Document{}, false, err
	}
	return doc, true, nil
}

func (g *Guard) write(ctx context.Context, doc store.Document, create bool) (store.Document, error) {
	if create {
		return g.store.Create(ctx, doc)
	}
	return g.store.Upsert(ctx, doc, doc.ChangeTag)
}

// List returns every document of the kind in the partition. A listing that
// discovers more than one default (unreachable through this package, but
// historical data or partial failures can produce it) triggers a
// best-effort repair that never blocks or fails the read.
func (g *Guard) List(ctx context.Context, partition string) ([]store.Document, error) {
	docs, err := g.store.QueryAll(ctx, g.kind, partition, nil)
	if err != nil {
		return nil, err
	}

	ndefaults := 0
	for _, d := range docs {
		if IsDefault(d) {
			ndefaults++
		}
	}
	if ndefaults > 1 {
		if repaired, err := g.RepairDuplicateDefaults(ctx, partition); err != nil {
			g.log.Warn("duplicate-default repair failed",
				slog.String("kind", string(g.kind)),
				slog.String("partition", partition),
				slog.Any("error", err))
		} else if repaired > 0 {
			g.log.Info("repaired duplicate defaults",
				slog.String("kind", string(g.kind)),
				slog.String("partition", partition),
				slog.Int("demoted", repaired))
		}
	}
	return docs, nil
}

// RepairDuplicateDefaults demotes all but the first-encountered default in
// the partition, in one atomic batch. Returns the number of documents
// demoted. Safe to run when the partition is already healthy.
func (g *Guard) RepairDuplicateDefaults(ctx context.Context, partition string) (int, error) {
	defaults, err := g.currentDefaults(ctx, partition)
	if err != nil {
		return 0, err
	}
	if len(defaults) <= 1 {
		return 0, nil
	}

	batch := g.store.Batch(g.kind, partition)
	for _, extra := range defaults[1:] {
		batch.Upsert(setDefault(extra, false), extra.ChangeTag)
	}
	if err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(defaults) - 1, nil
}

// Default returns the partition's current default document, or
// store.ErrNotFound when the partition holds no default.
func (g *Guard) Default(ctx context.Context, partition string) (store.Document, error) {
	defaults, err := g.currentDefaults(ctx, partition)
	if err != nil {
		return store.Document{}, err
	}
	if len(defaults) == 0 {
		return store.Document{}, fmt.Errorf("%w: no default %s in %s", store.ErrNotFound, g.kind, partition)
	}
	return defaults[0], nil
}

// currentDefaults queries the partition's default documents. Iteration
// order follows the driver's stable query order, which defines
// "first-encountered" for repair.
func (g *Guard) currentDefaults(ctx context.Context, partition string) ([]store.Document, error) {
	docs, err := g.store.QueryAll(ctx, g.kind, partition, store.Eq(DefaultField, true))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return docs, nil
}
