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

// Package idgen produces document ids and change tags. Both are ULIDs:
// sortable by creation time, opaque to callers, unique per process. The
// postgres driver generates change tags server-side instead; this package
// serves the memory driver and id assignment for new documents.
package idgen

import (
	crand "crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator hands out ULID strings. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator creates a Generator with monotonic entropy, so ids created
// within the same millisecond still sort in issue order.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(crand.Reader, 0),
	}
}

// Next returns a fresh ULID string.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}

var defaultGenerator = NewGenerator()

// NewID returns a document id from the process-wide generator.
func NewID() string { return defaultGenerator.Next() }

// NewTag returns a change tag from the process-wide generator.
func NewTag() string { return defaultGenerator.Next() }
