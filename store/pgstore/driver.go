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

// Package pgstore implements the store.Driver contract on PostgreSQL.
// Documents live in one jsonb-bodied table keyed by (kind, partition_key,
// id); change tags are server-generated uuids, conditional writes compare
// them in the WHERE clause, and batches run in a transaction. Predicates
// translate to SQL over the jsonb body.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/docstore/store"
)

const pgUniqueViolation = "23505"

// Driver is a PostgreSQL-backed store.Driver.
type Driver struct {
	pool *pgxpool.Pool
}

var _ store.Driver = (*Driver)(nil)

// NewDriver wraps an existing connection pool. The pool must point at a
// database with migrations applied; see Connect.
func NewDriver(pool *pgxpool.Pool) *Driver {
	return &Driver{pool: pool}
}

// Pool exposes the underlying pool.
func (d *Driver) Pool() *pgxpool.Pool { return d.pool }

// queryer is satisfied by both the pool and a transaction, so the batch
// path reuses the single-document statements.
type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func encodeBody(doc store.Document) ([]byte, error) {
	body := doc.Body
	if body == nil {
		body = map[string]any{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body for %s/%s: %w", doc.Kind, doc.ID, err)
	}
	return raw, nil
}

func decodeBody(raw []byte) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return body, nil
}

func (d *Driver) Create(ctx context.Context, doc store.Document) (store.Document, error) {
	return createOn(ctx, d.pool, doc)
}

func createOn(ctx context.Context, q queryer, doc store.Document) (store.Document, error) {
	raw, err := encodeBody(doc)
	if err != nil {
		return store.Document{}, err
	}
	row := q.QueryRow(ctx, `
		INSERT INTO documents (kind, partition_key, id, body)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING change_tag::text, created_at, updated_at`,
		doc.Kind, doc.PartitionKey, doc.ID, raw)
	if err := row.Scan(&doc.ChangeTag, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return store.Document{}, fmt.Errorf("%w: %s/%s in %s", store.ErrConflict, doc.Kind, doc.ID, doc.PartitionKey)
		}
		return store.Document{}, fmt.Errorf("create %s/%s: %w", doc.Kind, doc.ID, err)
	}
	return doc, nil
}

func (d *Driver) Read(ctx context.Context, kind store.Kind, partition, id string) (store.Document, error) {
	doc, _, err := d.read(ctx, kind, partition, id, "")
	return doc, err
}

func (d *Driver) ReadIfModified(ctx context.Context, kind store.Kind, partition, id, tag string) (store.Document, bool, error) {
	return d.read(ctx, kind, partition, id, tag)
}

// read fetches one document. With a non-empty tag, a matching stored tag
// short-circuits before the body is decoded.
func (d *Driver) read(ctx context.Context, kind store.Kind, partition, id, tag string) (store.Document, bool, error) {
	var (
		storedTag            string
		raw                  []byte
		createdAt, updatedAt time.Time
	)
	row := d.pool.QueryRow(ctx, `
		SELECT change_tag::text, body, created_at, updated_at
		FROM documents
		WHERE kind = $1 AND partition_key = $2 AND id = $3`,
		kind, partition, id)
	if err := row.Scan(&storedTag, &raw, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, false, fmt.Errorf("%w: %s/%s in %s", store.ErrNotFound, kind, id, partition)
		}
		return store.Document{}, false, fmt.Errorf("read %s/%s: %w", kind, id, err)
	}
	if tag != "" && storedTag == tag {
		return store.Document{}, false, nil
	}
	body, err := decodeBody(raw)
	if err != nil {
		return store.Document{}, false, err
	}
	return store.Document{
		Kind:         kind,
		ID:           id,
		PartitionKey: partition,
		ChangeTag:    storedTag,
		Body:         body,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, true, nil
}

func (d *Driver) Upsert(ctx context.Context, doc store.Document, ifMatch string) (store.Document, error) {
	return upsertOn(ctx, d.pool, doc, ifMatch)
}

func upsertOn(ctx context.Context, q queryer, doc store.Document, ifMatch string) (store.Document, error) {
	raw, err := encodeBody(doc)
	if err != nil {
		return store.Document{}, err
	}

	var row pgx.Row
	if ifMatch == "" {
		row = q.QueryRow(ctx, `
			INSERT INTO documents (kind, partition_key, id, body)
			VALUES ($1, $2, $3, $4::jsonb)
			ON CONFLICT (kind, partition_key, id) DO UPDATE
			SET body = EXCLUDED.body, change_tag = gen_random_uuid(), updated_at = now()
			RETURNING change_tag::text, created_at, updated_at`,
			doc.Kind, doc.PartitionKey, doc.ID, raw)
	} else {
		row = q.QueryRow(ctx, `
			UPDATE documents
			SET body = $4::jsonb, change_tag = gen_random_uuid(), updated_at = now()
			WHERE kind = $1 AND partition_key = $2 AND id = $3 AND change_tag = $5::uuid
			RETURNING change_tag::text, created_at, updated_at`,
			doc.Kind, doc.PartitionKey, doc.ID, raw, ifMatch)
	}
	if err := row.Scan(&doc.ChangeTag, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, disambiguateConditional(ctx, q, doc)
		}
		return store.Document{}, fmt.Errorf("upsert %s/%s: %w", doc.Kind, doc.ID, err)
	}
	return doc, nil
}

// disambiguateConditional tells a lost race apart from a concurrent delete
// after a conditional update matched no row.
func disambiguateConditional(ctx context.Context, q queryer, doc store.Document) error {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM documents WHERE kind = $1 AND partition_key = $2 AND id = $3
		)`, doc.Kind, doc.PartitionKey, doc.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", doc.Kind, doc.ID, err)
	}
	if exists {
		return fmt.Errorf("%w: %s/%s in %s", store.ErrPreconditionFailed, doc.Kind, doc.ID, doc.PartitionKey)
	}
	return fmt.Errorf("%w: %s/%s in %s", store.ErrNotFound, doc.Kind, doc.ID, doc.PartitionKey)
}

func (d *Driver) Delete(ctx context.Context, kind store.Kind, partition, id string) (store.Document, bool, error) {
	return deleteOn(ctx, d.pool, kind, partition, id)
}

func deleteOn(ctx context.Context, q queryer, kind store.Kind, partition, id string) (store.Document, bool, error) {
	var (
		tag                  string
		raw                  []byte
		createdAt, updatedAt time.Time
	)
	row := q.QueryRow(ctx, `
		DELETE FROM documents
		WHERE kind = $1 AND partition_key = $2 AND id = $3
		RETURNING change_tag::text, body, created_at, updated_at`,
		kind, partition, id)
	if err := row.Scan(&tag, &raw, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Document{}, false, nil
		}
		return store.Document{}, false, fmt.Errorf("delete %s/%s: %w", kind, id, err)
	}
	body, err := decodeBody(raw)
	if err != nil {
		return store.Document{}, false, err
	}
	return store.Document{
		Kind:         kind,
		ID:           id,
		PartitionKey: partition,
		ChangeTag:    tag,
		Body:         body,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, true, nil
}

func (d *Driver) Query(ctx context.Context, kind store.Kind, partition string, pred store.Predicate) store.Iterator {
	where, args, err := translatePredicate(pred)
	if err != nil {
		return &errIterator{err: err}
	}
	sql := `
		SELECT id, change_tag::text, body, created_at, updated_at
		FROM documents
		WHERE kind = $1 AND partition_key = $2`
	if where != "" {
		sql += " AND " + where
	}
	sql += " ORDER BY id"

	rows, err := d.pool.Query(ctx, sql, append([]any{kind, partition}, args...)...)
	if err != nil {
		return &errIterator{err: fmt.Errorf("query %s in %s: %w", kind, partition, err)}
	}
	return &rowsIterator{rows: rows, kind: kind, partition: partition}
}

func (d *Driver) Batch(kind store.Kind, partition string) store.Batch {
	return &batch{drv: d, kind: kind, partition: partition}
}

type rowsIterator struct {
	rows      pgx.Rows
	kind      store.Kind
	partition string
	cur       store.Document
	err       error
}

func (it *rowsIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		it.rows.Close()
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var raw []byte
	doc := store.Document{Kind: it.kind, PartitionKey: it.partition}
	if err := it.rows.Scan(&doc.ID, &doc.ChangeTag, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		it.err = err
		it.rows.Close()
		return false
	}
	body, err := decodeBody(raw)
	if err != nil {
		it.err = err
		it.rows.Close()
		return false
	}
	doc.Body = body
	it.cur = doc
	return true
}

func (it *rowsIterator) Document() store.Document { return it.cur }
func (it *rowsIterator) Err() error               { return it.err }
func (it *rowsIterator) Close()                   { it.rows.Close() }

type errIterator struct {
	err error
}

func (it *errIterator) Next(context.Context) bool { return false }
func (it *errIterator) Document() store.Document  { return store.Document{} }
func (it *errIterator) Err() error                { return it.err }
func (it *errIterator) Close()                    {}
