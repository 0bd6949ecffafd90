// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcollector/fieldmigrate/pkg/state"
	"github.com/qcollector/fieldmigrate/pkg/testutils"
)

func createBackup(t *testing.T, st *state.State, formID, table, column string) *state.FieldDataBackup {
	t.Helper()
	ctx := context.Background()

	var b *state.FieldDataBackup
	err := st.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		b, err = st.CreateBackupTx(ctx, tx, formID, table, column,
			state.BackupManual, state.DefaultRetentionDays, "tester")
		return err
	})
	require.NoError(t, err)
	return b
}

func TestCreateAndRestoreBackup(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, db *sql.DB) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE survey (id text PRIMARY KEY, age integer)`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO survey VALUES ('r1', 30), ('r2', 45), ('r3', NULL)`)
		require.NoError(t, err)

		b := createBackup(t, st, "form-1", "survey", "age")
		require.Len(t, b.DataSnapshot, 3)
		assert.Equal(t, "30", *b.DataSnapshot[0].Value)
		assert.Nil(t, b.DataSnapshot[2].Value, "NULL values round-trip as nil")

		// Clobber the data, then restore.
		_, err = db.ExecContext(ctx, `UPDATE survey SET age = 0`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `DELETE FROM survey WHERE id = 'r3'`)
		require.NoError(t, err)

		var restored int
		err = st.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			var err error
			restored, _, err = st.RestoreTx(ctx, tx, b.ID)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 2, restored, "vanished rows are skipped")

		var age int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT age FROM survey WHERE id = 'r2'`).Scan(&age))
		assert.Equal(t, 45, age)
	})
}

func TestRestoreReAddsDroppedColumn(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, db *sql.DB) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE survey (id text PRIMARY KEY, age integer)`)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `INSERT INTO survey VALUES ('r1', 30)`)
		require.NoError(t, err)

		b := createBackup(t, st, "form-1", "survey", "age")

		_, err = db.ExecContext(ctx, `ALTER TABLE survey DROP COLUMN age`)
		require.NoError(t, err)

		var restored int
		err = st.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			var err error
			restored, _, err = st.RestoreTx(ctx, tx, b.ID)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, restored)

		var age int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT age FROM survey WHERE id = 'r1'`).Scan(&age))
		assert.Equal(t, 30, age)
	})
}

func TestRestoreExpiredBackupIsRejected(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, db *sql.DB) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE survey (id text PRIMARY KEY, age integer)`)
		require.NoError(t, err)

		b := createBackup(t, st, "form-1", "survey", "age")

		_, err = db.ExecContext(ctx,
			`UPDATE `+st.Schema()+`.field_data_backups SET retention_until = now() - interval '1 day' WHERE id = $1`,
			b.ID)
		require.NoError(t, err)

		err = st.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			_, _, err := st.RestoreTx(ctx, tx, b.ID)
			return err
		})
		var expired state.BackupExpiredError
		assert.ErrorAs(t, err, &expired)
	})
}

func TestListBackupsByFormExcludesExpiredByDefault(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, db *sql.DB) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE survey (id text PRIMARY KEY, age integer)`)
		require.NoError(t, err)

		live := createBackup(t, st, "form-1", "survey", "age")
		stale := createBackup(t, st, "form-1", "survey", "age")
		_, err = db.ExecContext(ctx,
			`UPDATE `+st.Schema()+`.field_data_backups SET retention_until = now() - interval '1 day' WHERE id = $1`,
			stale.ID)
		require.NoError(t, err)

		backups, total, err := st.ListBackupsByForm(ctx, "form-1", false, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, backups, 1)
		assert.Equal(t, live.ID, backups[0].ID)

		_, total, err = st.ListBackupsByForm(ctx, "form-1", true, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})
}

func TestSweepExpiredMatchesDryRun(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, db *sql.DB) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE survey (id text PRIMARY KEY, age integer)`)
		require.NoError(t, err)

		// One deletable backup: expired and old. One expired but recent, one
		// old but unexpired; neither may be deleted.
		deletable := createBackup(t, st, "form-1", "survey", "age")
		expiredRecent := createBackup(t, st, "form-1", "survey", "age")
		oldUnexpired := createBackup(t, st, "form-1", "survey", "age")

		_, err = db.ExecContext(ctx, `UPDATE `+st.Schema()+`.field_data_backups
			SET retention_until = now() - interval '1 day', created_at = now() - interval '100 days'
			WHERE id = $1`, deletable.ID)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `UPDATE `+st.Schema()+`.field_data_backups
			SET retention_until = now() - interval '1 day' WHERE id = $1`, expiredRecent.ID)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `UPDATE `+st.Schema()+`.field_data_backups
			SET created_at = now() - interval '100 days' WHERE id = $1`, oldUnexpired.ID)
		require.NoError(t, err)

		ageCutoff := time.Now().AddDate(0, 0, -90)

		n, err := st.CountExpired(ctx, ageCutoff)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		samples, err := st.ExpiredSamples(ctx, ageCutoff, 10)
		require.NoError(t, err)
		require.Len(t, samples, 1)
		assert.Equal(t, deletable.ID, samples[0].ID)

		deleted, err := st.SweepExpired(ctx, ageCutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		// The sweep deletes exactly what the dry run reported.
		_, total, err := st.ListBackupsByForm(ctx, "form-1", true, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})
}

func TestSweepLeavesJournalReferencesNull(t *testing.T) {
	t.Parallel()

	testutils.WithStateAndConnectionToContainer(t, func(st *state.State, db *sql.DB) {
		ctx := context.Background()

		_, err := db.ExecContext(ctx, `CREATE TABLE survey (id text PRIMARY KEY, age integer)`)
		require.NoError(t, err)

		b := createBackup(t, st, "form-1", "survey", "age")
		id, err := st.RecordMigration(ctx, &state.FieldMigration{
			FormID: "form-1", MigrationType: state.MigrationDropColumn,
			TableName: "survey", ColumnName: "age",
			BackupID: &b.ID, Success: true,
		})
		require.NoError(t, err)

		_, err = db.ExecContext(ctx, `UPDATE `+st.Schema()+`.field_data_backups
			SET retention_until = now() - interval '1 day', created_at = now() - interval '100 days'
			WHERE id = $1`, b.ID)
		require.NoError(t, err)

		deleted, err := st.SweepExpired(ctx, time.Now().AddDate(0, 0, -90))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		m, err := st.GetMigration(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, m.BackupID, "journal entry survives with its backup reference cleared")
	})
}
