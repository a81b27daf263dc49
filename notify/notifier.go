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

// Package notify fans out post-write events to registered listeners.
// Delivery is synchronous, in registration order, and best-effort: the
// write is already committed when listeners run, so a listener failure is
// logged and never propagated back to the writer.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/docstore/store"
)

// Listener receives committed write events.
type Listener interface {
	HandleEvent(ctx context.Context, ev store.Event) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, ev store.Event) error

func (f ListenerFunc) HandleEvent(ctx context.Context, ev store.Event) error {
	return f(ctx, ev)
}

type registration struct {
	name     string
	listener Listener
}

// Notifier implements store.EventSink over a registry of listeners.
// Registration order is delivery order. Safe for concurrent use.
type Notifier struct {
	mu        sync.RWMutex
	listeners []registration
	log       *slog.Logger
}

var _ store.EventSink = (*Notifier)(nil)

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger overrides the logger used for listener failures.
func WithLogger(log *slog.Logger) Option {
	return func(n *Notifier) { n.log = log }
}

// New creates an empty Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{log: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register appends a named listener to the delivery order.
func (n *Notifier) Register(name string, l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, registration{name: name, listener: l})
}

// Publish delivers the event to every listener in registration order. A
// failing listener does not stop delivery to the rest; failures are
// aggregated and logged.
func (n *Notifier) Publish(ctx context.Context, ev store.Event) {
	n.mu.RLock()
	listeners := make([]registration, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()

	var errs *multierror.Error
	for _, reg := range listeners {
		if err := reg.listener.HandleEvent(ctx, ev); err != nil {
			errs = multierror.Append(errs, err)
			n.log.Warn("notification listener failed",
				slog.String("listener", reg.name),
				slog.String("op", string(ev.Op)),
				slog.String("kind", string(ev.Document.Kind)),
				slog.String("id", ev.Document.ID),
				slog.Any("error", err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil && len(listeners) > 1 {
		n.log.Debug("notification fan-out completed with failures",
			slog.Int("listeners", len(listeners)),
			slog.Int("failed", len(errs.Errors)))
	}
}
