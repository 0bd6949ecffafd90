// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is the minimal query surface shared by *sql.Tx, *sql.DB and the
// db.DB wrapper. Catalog lookups run against whichever the caller is inside.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TableExists reports whether an ordinary table with the given name exists in
// the current search path.
func TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = $1
			AND c.relkind IN ('r', 'p')
			AND n.nspname = ANY(current_schemas(false))
		)`, table).Scan(&exists)
	return exists, err
}

// ColumnExists reports whether the column exists on the table.
func ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM pg_attribute a
			JOIN pg_class c ON c.oid = a.attrelid
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = $1
			AND a.attname = $2
			AND a.attnum > 0
			AND NOT a.attisdropped
			AND n.nspname = ANY(current_schemas(false))
		)`, table, column).Scan(&exists)
	return exists, err
}

// CurrentColumnType returns the formatted physical type of a column, as
// reported by the database catalog. Used only to build rollback SQL for drops
// and to re-add columns on restore; logical-to-physical mapping otherwise goes
// through ColumnType.
func CurrentColumnType(ctx context.Context, q Querier, table, column string) (string, error) {
	var typ string
	err := q.QueryRowContext(ctx,
		`SELECT format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relname = $1
		AND a.attname = $2
		AND a.attnum > 0
		AND NOT a.attisdropped
		AND n.nspname = ANY(current_schemas(false))`,
		table, column).Scan(&typ)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ColumnDoesNotExistError{Table: table, Name: column}
	}
	if err != nil {
		return "", err
	}
	return typ, nil
}

// PrimaryKeyColumn returns the name of the table's single-column primary key.
// Dynamic tables are created with one, but the catalog is consulted rather
// than assumed so that backups update rows by identity.
func PrimaryKeyColumn(ctx context.Context, q Querier, table string) (string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT a.attname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY(i.indkey)
		WHERE c.relname = $1
		AND i.indisprimary
		AND n.nspname = ANY(current_schemas(false))`,
		table)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return "", err
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if len(cols) != 1 {
		return "", NoPrimaryKeyError{Table: table}
	}
	return cols[0], nil
}
