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

// Package registry assembles the document store access handles once at
// process startup. Collaborators receive the handles from here instead of
// constructing their own, so every writer of a singleton-default or
// membership-holder kind goes through the same guard and mutator.
package registry

import (
	"github.com/cardinalhq/docstore/cache"
	"github.com/cardinalhq/docstore/config"
	"github.com/cardinalhq/docstore/guard"
	"github.com/cardinalhq/docstore/mutate"
	"github.com/cardinalhq/docstore/notify"
	"github.com/cardinalhq/docstore/schedule"
	"github.com/cardinalhq/docstore/store"
)

// Registry holds one handle per access path. Constructed once; all fields
// are ready after New returns.
type Registry struct {
	Store    *store.Store
	Cache    *cache.Cache
	Mutator  *mutate.Mutator
	Profiles *guard.Guard
	Matcher  *schedule.Matcher
	Notifier *notify.Notifier
}

// New wires the handles over a driver. Writes fan out through the returned
// Notifier; register listeners on it before issuing writes that must be
// observed.
func New(drv store.Driver, cfg *config.Config, opts ...store.Option) *Registry {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	notifier := notify.New()
	storeOpts := make([]store.Option, 0, len(opts)+1)
	storeOpts = append(storeOpts, opts...)
	storeOpts = append(storeOpts, store.WithEventSink(notifier))
	s := store.New(drv, storeOpts...)

	return &Registry{
		Store: s,
		Cache: cache.New(s,
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithCapacity(cfg.Cache.Capacity),
		),
		Mutator: mutate.New(s,
			mutate.WithMaxAttempts(cfg.Mutator.MaxAttempts),
			mutate.WithBackoff(cfg.Mutator.Backoff),
		),
		Profiles: guard.New(s, store.KindStorageProfile),
		Matcher:  schedule.NewMatcher(s),
		Notifier: notifier,
	}
}

// Close releases background resources. The driver is owned by the caller
// and is not closed here.
func (r *Registry) Close() {
	r.Cache.Stop()
}
