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
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardinalhq/docstore/internal/dbopen"
)

// EnvPrefix names the environment variables Connect reads, e.g.
// DOCSTORE_HOST, DOCSTORE_DBNAME, or DOCSTORE_URL outright.
const EnvPrefix = "DOCSTORE"

// Connect opens a pool from the environment and verifies the migration
// version. The returned driver is ready for use.
func Connect(ctx context.Context) (*Driver, error) {
	connStr, err := dbopen.URLFromEnv(EnvPrefix)
	if err != nil {
		return nil, err
	}
	pool, err := NewConnectionPool(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := CheckVersion(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewDriver(pool), nil
}

// NewConnectionPool opens and pings a pgx pool.
func NewConnectionPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
