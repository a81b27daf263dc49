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

// Package mutate implements the read-mutate-conditional-write loop for
// documents with embedded collections edited by concurrent callers.
// Overwriting such a document wholesale discards concurrent edits; routing
// every mutation through Mutate serializes racing writers via change-tag
// rejection and retry instead.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/docstore/store"
)

var meter = otel.Meter("github.com/cardinalhq/docstore/mutate")

const (
	// DefaultMaxAttempts bounds the retry loop. The bound is deliberate:
	// retrying without limit under sustained contention turns a race into
	// unbounded work.
	DefaultMaxAttempts = 16

	// DefaultBackoff is the base sleep between attempts; each retry sleeps
	// a jittered multiple of it.
	DefaultBackoff = 10 * time.Millisecond
)

// Func applies one logical mutation to the current persisted copy and
// returns the mutated document. Returning changed=false short-circuits the
// loop without writing. Func may be called several times and must be safe
// to re-apply to a fresher copy.
type Func func(doc store.Document) (mutated store.Document, changed bool, err error)

// Mutator runs bounded optimistic mutation loops against a store.
type Mutator struct {
	store       *store.Store
	maxAttempts int
	backoff     time.Duration

	retries metric.Int64Counter
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(n int) Option {
	return func(m *Mutator) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBackoff overrides the base inter-attempt sleep. Zero disables
// sleeping, which tests use to keep the loop fast.
func WithBackoff(d time.Duration) Option {
	return func(m *Mutator) { m.backoff = d }
}

// New creates a Mutator.
func New(s *store.Store, opts ...Option) *Mutator {
	m := &Mutator{
		store:       s,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.retries, _ = meter.Int64Counter("docstore.mutate.retries",
		metric.WithDescription("Conditional writes retried after losing a race"))
	return m
}

// Mutate applies fn to the latest persisted copy of doc and writes the
// result conditioned on the copy's change tag, retrying on lost races up to
// the attempt budget.
//
// If doc carries no change tag it was never freshly read: the current copy
// is fetched first, and if none exists the input document is created (with
// fn applied). If the document is deleted by a concurrent writer at any
// point, Mutate returns ok=false with no error; there is nothing left to
// mutate. Exhausting the budget returns store.ErrTooMuchContention.
//
// store.ErrPreconditionFailed never escapes this method.
func (m *Mutator) Mutate(ctx context.Context, doc store.Document, fn Func) (result store.Document, ok bool, err error) {
	if doc.PartitionKey == "" {
		pk, err := store.PartitionKeyFor(doc.Kind, doc.ID, doc.Body)
		if err != nil {
			return store.Document{}, false, err
		}
		doc.PartitionKey = pk
	}
	cur := doc
	fetched := cur.ChangeTag != ""

	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return store.Document{}, false, err
		}

		if !fetched {
			latest, err := m.store.Read(ctx, doc.Kind, doc.PartitionKey, doc.ID)
			switch {
			case err == nil:
				cur = latest
				fetched = true
			case errors.Is(err, store.ErrNotFound):
				created, done, err := m.createFirst(ctx, doc, fn)
				if err != nil {
					return store.Document{}, false, err
				}
				if done {
					return created, true, nil
				}
				// Lost the create race; read the winner's copy next pass.
				m.retries.Add(ctx, 1)
				continue
			default:
				return store.Document{}, false, err
			}
		}

		next, changed, err := fn(cur)
		if err != nil {
			return store.Document{}, false, err
		}
		if !changed {
			return cur, true, nil
		}
		next.Kind = cur.Kind
		next.ID = cur.ID
		next.PartitionKey = cur.PartitionKey

		written, err := m.store.Upsert(ctx, next, cur.ChangeTag)
		switch {
		case err == nil:
			return written, true, nil
		case errors.Is(err, store.ErrPreconditionFailed):
			m.retries.Add(ctx, 1)
			fetched = false
			if err := m.sleep(ctx, attempt); err != nil {
				return store.Document{}, false, err
			}
		case errors.Is(err, store.ErrNotFound):
			// Deleted underneath us; the logical operation is abandoned.
			return store.Document{}, false, nil
		default:
			return store.Document{}, false, err
		}
	}

	return store.Document{}, false, fmt.Errorf("%w: %s/%s after %d attempts",
		store.ErrTooMuchContention, doc.Kind, doc.ID, m.maxAttempts)
}

// createFirst handles the absent-document path: apply fn to the caller's
// template and create the result. done=false means another writer created
// the document first and the caller should retry against it.
func (m *Mutator) createFirst(ctx context.Context, doc store.Document, fn Func) (store.Document, bool, error) {
	next, changed, err := fn(doc)
	if err != nil {
		return store.Document{}, false, err
	}
	if !changed {
		next = doc
	}
	next.Kind = doc.Kind
	next.ID = doc.ID
	next.PartitionKey = doc.PartitionKey
	next.ChangeTag = ""

	created, err := m.store.Create(ctx, next)
	switch {
	case err == nil:
		return created, true, nil
	case errors.Is(err, store.ErrConflict):
		return store.Document{}, false, nil
	default:
		return store.Document{}, false, err
	}
}

func (m *Mutator) sleep(ctx context.Context, attempt int) error {
	if m.backoff <= 0 {
		return nil
	}
	d := time.Duration(attempt+1) * m.backoff
	d += time.Duration(rand.Int63n(int64(m.backoff)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
