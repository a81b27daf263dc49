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

import "errors"

var (
	// ErrNotFound is returned when a read target is absent. Delete never
	// returns it: deletion is idempotent.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned by Create when a document with the same id
	// already exists in the partition.
	ErrConflict = errors.New("document already exists")

	// ErrPreconditionFailed is returned by a conditional write whose If-Match
	// change tag no longer matches the stored document.
	ErrPreconditionFailed = errors.New("change tag precondition failed")

	// ErrValidation wraps failures from the caller-supplied validation hook.
	// Surfaced before any write is attempted.
	ErrValidation = errors.New("document validation failed")

	// ErrInvariantViolation is returned when an operation would leave a
	// partition without a default document for a singleton-default kind.
	ErrInvariantViolation = errors.New("operation violates partition invariant")

	// ErrTooMuchContention is returned when an optimistic retry budget is
	// exhausted without a successful conditional write.
	ErrTooMuchContention = errors.New("too much write contention")

	// ErrCrossPartitionBatch is returned when a batch is asked to touch a
	// document outside the partition it was opened for.
	ErrCrossPartitionBatch = errors.New("batch operations must share one partition")
)
