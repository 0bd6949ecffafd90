// SPDX-License-Identifier: Apache-2.0

package migrations

// OpRestoreBackup replays a column data backup into its table. A restore is
// itself a migration: it journals a RESTORE entry referencing the backup it
// consumed, with no rollback SQL. Unlike the DDL arms it produces no
// statement up front; the executor delegates to the backup store.
type OpRestoreBackup struct {
	BackupID string `json:"backupId"`
}
