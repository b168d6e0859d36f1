// Package db implements the store contracts on database/sql. The same SQL
// serves both backends: Postgres via the pgx stdlib driver (managed mode) and
// an embedded SQLite file via modernc (standalone mode). Timestamps and UUIDs
// are generated in Go so no engine-specific SQL functions are needed.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with placeholder rebinding for the SQLite backend.
type DB struct {
	*sql.DB
	sqlite bool
}

// Open connects to the backend selected by the DSN: "postgres://..." opens
// Postgres, anything else is treated as a SQLite file path.
func Open(dsn string) (*DB, error) {
	if IsPostgresDSN(dsn) {
		h, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		h.SetMaxOpenConns(10)
		h.SetConnMaxIdleTime(5 * time.Minute)
		return &DB{DB: h}, nil
	}

	// SQLite needs serialized writes; busy_timeout keeps concurrent units
	// of work queued instead of failing with SQLITE_BUSY.
	path := strings.TrimPrefix(dsn, "sqlite:")
	h, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	h.SetMaxOpenConns(1)
	return &DB{DB: h, sqlite: true}, nil
}

// IsPostgresDSN reports whether the DSN targets Postgres.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// rebind converts $N placeholders to ? for SQLite. Queries in this package
// number their placeholders in order of first use, so positional args line up.
func (d *DB) rebind(query string) string {
	if !d.sqlite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.QueryRowContext(ctx, d.rebind(query), args...)
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.PingContext(ctx)
}
