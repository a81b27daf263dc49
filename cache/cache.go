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

// Package cache provides a process-local, conditional read-through cache
// over single-document reads. A hit still issues a read against the store,
// but conditioned on the cached change tag: when the store reports the
// document unchanged, the cached copy is returned without decoding a new
// payload. Entries expire on a sliding TTL; there is no cross-process
// invalidation, so read-after-other-writer can be stale for up to the TTL.
// Writers never read through the cache.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/docstore/store"
)

var meter = otel.Meter("github.com/cardinalhq/docstore/cache")

const (
	// DefaultTTL is the sliding expiration for cache entries.
	DefaultTTL = 5 * time.Minute

	// DefaultCapacity bounds the number of cached documents.
	DefaultCapacity = 100_000
)

type cacheKey struct {
	kind      store.Kind
	partition string
	id        string
}

type cacheEntry struct {
	tag string
	doc store.Document
}

// Cache is a conditional read-through cache keyed by (kind, partition, id).
type Cache struct {
	store *store.Store
	items *ttlcache.Cache[cacheKey, cacheEntry]

	hits        metric.Int64Counter
	misses      metric.Int64Counter
	notModified metric.Int64Counter
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	ttl      time.Duration
	capacity uint64
}

// WithTTL overrides the sliding expiration.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithCapacity overrides the entry capacity bound.
func WithCapacity(capacity uint64) Option {
	return func(o *options) { o.capacity = capacity }
}

// New creates a Cache over a store and starts its expiration loop.
func New(s *store.Store, opts ...Option) *Cache {
	o := options{ttl: DefaultTTL, capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache{
		store: s,
		items: ttlcache.New(
			ttlcache.WithTTL[cacheKey, cacheEntry](o.ttl),
			ttlcache.WithCapacity[cacheKey, cacheEntry](o.capacity),
		),
	}
	c.hits, _ = meter.Int64Counter("docstore.cache.hits",
		metric.WithDescription("Cache entries found for GetOrFetch"))
	c.misses, _ = meter.Int64Counter("docstore.cache.misses",
		metric.WithDescription("GetOrFetch calls that fell through to a full read"))
	c.notModified, _ = meter.Int64Counter("docstore.cache.not_modified",
		metric.WithDescription("Conditional reads answered unchanged by the store"))

	go c.items.Start()
	return c
}

// Stop halts the expiration loop.
func (c *Cache) Stop() {
	c.items.Stop()
}

// GetOrFetch returns the document, using the cached copy when the store
// reports it unchanged. A miss reads through the store and populates the
// entry. A document deleted from the store evicts the entry and returns
// store.ErrNotFound.
func (c *Cache) GetOrFetch(ctx context.Context, kind store.Kind, partition, id string) (store.Document, error) {
	key := cacheKey{kind: kind, partition: partition, id: id}

	if item := c.items.Get(key); item != nil {
		entry := item.Value()
		fresh, modified, err := c.store.ReadIfModified(ctx, kind, partition, id, entry.tag)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.items.Delete(key)
			}
			return store.Document{}, err
		}
		c.hits.Add(ctx, 1)
		if !modified {
			c.notModified.Add(ctx, 1)
			return entry.doc.Clone(), nil
		}
		c.items.Set(key, cacheEntry{tag: fresh.ChangeTag, doc: fresh}, ttlcache.DefaultTTL)
		return fresh.Clone(), nil
	}

	c.misses.Add(ctx, 1)
	doc, err := c.store.Read(ctx, kind, partition, id)
	if err != nil {
		return store.Document{}, err
	}
	c.items.Set(key, cacheEntry{tag: doc.ChangeTag, doc: doc}, ttlcache.DefaultTTL)
	return doc.Clone(), nil
}

// Invalidate drops a single entry. Callers that just wrote a document may
// use it to shorten the staleness window for other readers in this process.
func (c *Cache) Invalidate(kind store.Kind, partition, id string) {
	c.items.Delete(cacheKey{kind: kind, partition: partition, id: id})
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	return c.items.Len()
}
