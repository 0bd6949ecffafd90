// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/qcollector/fieldmigrate/pkg/db"
)

const DefaultSchemaName = "qc_migrations"

// Retention window bounds for column data backups, in days.
const (
	DefaultRetentionDays = 90
	MinRetentionDays     = 30
	MaxRetentionDays     = 365
)

const sqlInit = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.field_data_backups (
	id              UUID PRIMARY KEY,
	form_id         TEXT NOT NULL,
	table_name      TEXT NOT NULL,
	column_name     TEXT NOT NULL,
	column_type     TEXT NOT NULL,
	backup_type     TEXT NOT NULL,
	data_snapshot   JSONB NOT NULL,
	retention_until TIMESTAMPTZ NOT NULL,
	created_by      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS field_data_backups_form_idx
	ON %[1]s.field_data_backups (form_id, created_at DESC);
CREATE INDEX IF NOT EXISTS field_data_backups_retention_idx
	ON %[1]s.field_data_backups (retention_until);

CREATE TABLE IF NOT EXISTS %[1]s.field_migrations (
	id             UUID PRIMARY KEY,
	field_id       TEXT,
	form_id        TEXT NOT NULL,
	migration_type TEXT NOT NULL,
	table_name     TEXT NOT NULL,
	column_name    TEXT NOT NULL,
	old_value      JSONB,
	new_value      JSONB,
	rollback_sql   TEXT,
	backup_id      UUID REFERENCES %[1]s.field_data_backups (id) ON DELETE SET NULL,
	executed_by    TEXT,
	executed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	success        BOOLEAN NOT NULL,
	error_message  TEXT
);

CREATE INDEX IF NOT EXISTS field_migrations_form_idx
	ON %[1]s.field_migrations (form_id, executed_at DESC);

CREATE TABLE IF NOT EXISTS %[1]s.migration_jobs (
	id           UUID PRIMARY KEY,
	form_id      TEXT NOT NULL,
	seq          BIGINT GENERATED ALWAYS AS IDENTITY,
	change       JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'waiting',
	attempts     INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 3,
	next_run_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error   TEXT,
	enqueued_by  TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS migration_jobs_claim_idx
	ON %[1]s.migration_jobs (form_id, status, next_run_at, seq);
`

// State provides access to the migration core's own tables: the migration
// journal, the column data backups and the durable job queue. All three live
// in a dedicated schema, separate from the dynamic form tables.
type State struct {
	pgConn db.DB
	schema string

	now func() time.Time
}

type Option func(*State)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

func New(ctx context.Context, pgURL, stateSchema string, opts ...Option) (*State, error) {
	conn, err := db.Open(ctx, pgURL)
	if err != nil {
		return nil, err
	}

	return NewWithDB(conn, stateSchema, opts...), nil
}

// NewWithDB wraps an existing connection. The caller keeps ownership of conn's
// lifetime only if it also skips Close.
func NewWithDB(conn db.DB, stateSchema string, opts ...Option) *State {
	s := &State{
		pgConn: conn,
		schema: stateSchema,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the state schema and tables if they do not exist.
func (s *State) Init(ctx context.Context) error {
	_, err := s.pgConn.ExecContext(ctx, fmt.Sprintf(sqlInit, pq.QuoteIdentifier(s.schema)))
	return err
}

// IsInitialized reports whether the state schema exists.
func (s *State) IsInitialized(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pgConn.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)",
		s.schema).Scan(&exists)
	return exists, err
}

func (s *State) Schema() string {
	return s.schema
}

// DB exposes the underlying connection for callers that run DDL against the
// dynamic tables in the same database.
func (s *State) DB() db.DB {
	return s.pgConn
}

func (s *State) Close() error {
	return s.pgConn.Close()
}

// WithTransaction runs f inside a retryable transaction on the state's
// connection.
func (s *State) WithTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	return s.pgConn.WithRetryableTransaction(ctx, f)
}

func (s *State) tableName(table string) string {
	return pq.QuoteIdentifier(s.schema) + "." + pq.QuoteIdentifier(table)
}
