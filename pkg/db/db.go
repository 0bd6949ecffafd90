// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode     pq.ErrorCode = "55P03"
	serializationFailureErrorCode pq.ErrorCode = "40001"
	deadlockDetectedErrorCode     pq.ErrorCode = "40P01"

	maxBackoffDuration = 1 * time.Minute
	backoffInterval    = 1 * time.Second
)

// DB is the database access surface used by the migration core. Queries are
// retried on lock contention; transactions commit on a nil callback error and
// roll back on every other exit path.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	Close() error
}

// RDB wraps a *sql.DB and retries queries using an exponential backoff (with
// jitter) on lock_timeout, deadlock and serialization failure errors.
type RDB struct {
	DB *sql.DB
}

// Open connects to the given Postgres URL and verifies the connection.
func Open(ctx context.Context, pgURL string) (*RDB, error) {
	dsn, err := pq.ParseURL(pgURL)
	if err != nil {
		dsn = pgURL
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return &RDB{DB: conn}, nil
}

// ExecContext wraps sql.DB.ExecContext, retrying queries on retryable errors.
func (db *RDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		res, err := db.DB.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}

		if isRetryable(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryContext wraps sql.DB.QueryContext, retrying queries on retryable errors.
func (db *RDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		rows, err := db.DB.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}

		if isRetryable(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryRowContext wraps sql.DB.QueryRowContext. Row errors surface on Scan, so
// no retry is attempted here.
func (db *RDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, query, args...)
}

// WithRetryableTransaction runs `f` in a transaction, retrying on retryable errors.
func (db *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		tx, err := db.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = runInTx(ctx, tx, f)
		if err == nil {
			return tx.Commit()
		}

		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			return errRollback
		}

		if isRetryable(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return err
			}
			continue
		}

		return err
	}
}

// runInTx isolates panic recovery so that a panicking callback still rolls the
// transaction back before the panic is re-raised.
func runInTx(ctx context.Context, tx *sql.Tx, f func(context.Context, *sql.Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	return f(ctx, tx)
}

func (db *RDB) Close() error {
	return db.DB.Close()
}

func isRetryable(err error) bool {
	pqErr := &pq.Error{}
	if !errors.As(err, &pqErr) {
		return false
	}

	switch pqErr.Code {
	case lockNotAvailableErrorCode, serializationFailureErrorCode, deadlockDetectedErrorCode:
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
