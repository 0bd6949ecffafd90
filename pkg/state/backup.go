// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/qcollector/fieldmigrate/pkg/schema"
)

// BackupType records why a column snapshot was taken.
type BackupType string

const (
	BackupPreDelete     BackupType = "PRE_DELETE"
	BackupPreTypeChange BackupType = "PRE_TYPE_CHANGE"
	BackupManual        BackupType = "MANUAL"
	BackupAutoDelete    BackupType = "AUTO_DELETE"
)

// SnapshotRow is one row's value for the backed-up column. Values are stored
// in their text form; a nil Value records SQL NULL. The row's primary key is
// kept so a restore can update by identity regardless of later inserts or
// deletes.
type SnapshotRow struct {
	ID    string  `json:"id"`
	Value *string `json:"value"`
}

// FieldDataBackup is an immutable full-column snapshot with a retention
// deadline. Expired backups are never consulted for restore and may be swept.
type FieldDataBackup struct {
	ID             string        `json:"id"`
	FormID         string        `json:"formId"`
	TableName      string        `json:"tableName"`
	ColumnName     string        `json:"columnName"`
	ColumnType     string        `json:"columnType"`
	BackupType     BackupType    `json:"backupType"`
	DataSnapshot   []SnapshotRow `json:"dataSnapshot"`
	RetentionUntil time.Time     `json:"retentionUntil"`
	CreatedBy      string        `json:"createdBy"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type BackupNotFoundError struct {
	ID string
}

func (e BackupNotFoundError) Error() string {
	return fmt.Sprintf("backup %q not found", e.ID)
}

type BackupExpiredError struct {
	ID             string
	RetentionUntil time.Time
}

func (e BackupExpiredError) Error() string {
	return fmt.Sprintf("backup %q expired at %s", e.ID, e.RetentionUntil.Format(time.RFC3339))
}

type InvalidRetentionError struct {
	Days int
}

func (e InvalidRetentionError) Error() string {
	return fmt.Sprintf("retention of %d days is outside [%d, %d]",
		e.Days, MinRetentionDays, MaxRetentionDays)
}

// ValidateRetentionDays checks the configured retention window bounds.
func ValidateRetentionDays(days int) error {
	if days < MinRetentionDays || days > MaxRetentionDays {
		return InvalidRetentionError{Days: days}
	}
	return nil
}

// CreateBackupTx snapshots every row's value for one column inside the given
// transaction, so the snapshot is point-in-time consistent with the DDL that
// follows it. The snapshot is ordered by primary key.
func (s *State) CreateBackupTx(ctx context.Context, tx *sql.Tx, formID, table, column string, backupType BackupType, retentionDays int, actor string) (*FieldDataBackup, error) {
	if err := ValidateRetentionDays(retentionDays); err != nil {
		return nil, err
	}

	exists, err := schema.TableExists(ctx, tx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, schema.TableDoesNotExistError{Name: table}
	}

	columnType, err := schema.CurrentColumnType(ctx, tx, table, column)
	if err != nil {
		return nil, err
	}

	pkColumn, err := schema.PrimaryKeyColumn(ctx, tx, table)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT %[1]s::text, %[2]s::text FROM %[3]s ORDER BY %[1]s",
		pq.QuoteIdentifier(pkColumn),
		pq.QuoteIdentifier(column),
		pq.QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("unable to snapshot column %q: %w", column, err)
	}
	defer rows.Close()

	snapshot := make([]SnapshotRow, 0)
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.ID, &r.Value); err != nil {
			return nil, err
		}
		snapshot = append(snapshot, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	now := s.now()
	b := &FieldDataBackup{
		ID:             uuid.New().String(),
		FormID:         formID,
		TableName:      table,
		ColumnName:     column,
		ColumnType:     columnType,
		BackupType:     backupType,
		DataSnapshot:   snapshot,
		RetentionUntil: now.Add(time.Duration(retentionDays) * 24 * time.Hour),
		CreatedBy:      actor,
		CreatedAt:      now,
	}

	raw, err := json.Marshal(b.DataSnapshot)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s
			(id, form_id, table_name, column_name, column_type, backup_type,
			data_snapshot, retention_until, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.tableName("field_data_backups")),
		b.ID, b.FormID, b.TableName, b.ColumnName, b.ColumnType,
		string(b.BackupType), raw, b.RetentionUntil, b.CreatedBy, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("unable to store backup: %w", err)
	}

	return b, nil
}

// GetBackup returns a backup by id.
func (s *State) GetBackup(ctx context.Context, id string) (*FieldDataBackup, error) {
	row := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, form_id, table_name, column_name, column_type,
			backup_type, data_snapshot, retention_until, created_by, created_at
			FROM %s WHERE id = $1`,
			s.tableName("field_data_backups")),
		id)

	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, BackupNotFoundError{ID: id}
	}
	return b, err
}

// ListBackupsByForm lists a form's backups, most recent first, optionally
// including expired ones, with the total count before pagination.
func (s *State) ListBackupsByForm(ctx context.Context, formID string, includeExpired bool, limit, offset int) ([]FieldDataBackup, int, error) {
	where := "form_id = $1"
	args := []any{formID}
	if !includeExpired {
		where += " AND retention_until > $2"
		args = append(args, s.now())
	}

	var total int
	err := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", s.tableName("field_data_backups"), where),
		args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT id, form_id, table_name, column_name, column_type,
		backup_type, data_snapshot, retention_until, created_by, created_at
		FROM %s WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`,
		s.tableName("field_data_backups"), where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pgConn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var backups []FieldDataBackup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, 0, err
		}
		backups = append(backups, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating rows: %w", err)
	}

	return backups, total, nil
}

// RestoreTx writes a backup's values back into its column inside the given
// transaction. The backup row is locked for the duration so the retention
// sweeper cannot delete it mid-restore. If the column no longer exists it is
// re-added with the physical type recorded at backup time. Rows whose primary
// key has since disappeared are skipped; the count of rows actually updated is
// returned, together with the backup that was consumed.
func (s *State) RestoreTx(ctx context.Context, tx *sql.Tx, backupID string) (int, *FieldDataBackup, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, form_id, table_name, column_name, column_type,
			backup_type, data_snapshot, retention_until, created_by, created_at
			FROM %s WHERE id = $1 FOR UPDATE`,
			s.tableName("field_data_backups")),
		backupID)

	b, err := scanBackup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, BackupNotFoundError{ID: backupID}
	}
	if err != nil {
		return 0, nil, err
	}

	if !s.now().Before(b.RetentionUntil) {
		return 0, nil, BackupExpiredError{ID: b.ID, RetentionUntil: b.RetentionUntil}
	}

	tableExists, err := schema.TableExists(ctx, tx, b.TableName)
	if err != nil {
		return 0, nil, err
	}
	if !tableExists {
		return 0, nil, schema.TableDoesNotExistError{Name: b.TableName}
	}

	columnExists, err := schema.ColumnExists(ctx, tx, b.TableName, b.ColumnName)
	if err != nil {
		return 0, nil, err
	}
	if !columnExists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			pq.QuoteIdentifier(b.TableName),
			pq.QuoteIdentifier(b.ColumnName),
			b.ColumnType))
		if err != nil {
			return 0, nil, fmt.Errorf("unable to re-add column %q: %w", b.ColumnName, err)
		}
	}

	pkColumn, err := schema.PrimaryKeyColumn(ctx, tx, b.TableName)
	if err != nil {
		return 0, nil, err
	}

	update := fmt.Sprintf("UPDATE %s SET %s = $1::%s WHERE %s::text = $2",
		pq.QuoteIdentifier(b.TableName),
		pq.QuoteIdentifier(b.ColumnName),
		b.ColumnType,
		pq.QuoteIdentifier(pkColumn))

	restored := 0
	for _, r := range b.DataSnapshot {
		res, err := tx.ExecContext(ctx, update, r.Value, r.ID)
		if err != nil {
			return 0, nil, fmt.Errorf("unable to restore row %q: %w", r.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, nil, err
		}
		restored += int(n)
	}

	return restored, b, nil
}

// SweepExpired removes backups past their retention deadline that were also
// created before the age cutoff. Deletion takes a row lock, so backups held by
// an in-flight restore are not removed from under it. Idempotent.
func (s *State) SweepExpired(ctx context.Context, ageCutoff time.Time) (int64, error) {
	res, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %[1]s WHERE id IN (
			SELECT id FROM %[1]s
			WHERE retention_until < $1 AND created_at < $2 AND backup_type <> $3
			FOR UPDATE SKIP LOCKED
		)`, s.tableName("field_data_backups")),
		s.now(), ageCutoff, string(BackupAutoDelete))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TombstoneExpired is the audit-preserving alternative to SweepExpired: the
// rows it would delete are instead retagged AUTO_DELETE and stripped of their
// snapshot, keeping the metadata around.
func (s *State) TombstoneExpired(ctx context.Context, ageCutoff time.Time) (int64, error) {
	res, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %[1]s SET backup_type = $3, data_snapshot = '[]'::jsonb
			WHERE id IN (
				SELECT id FROM %[1]s
				WHERE retention_until < $1 AND created_at < $2 AND backup_type <> $3
				FOR UPDATE SKIP LOCKED
			)`, s.tableName("field_data_backups")),
		s.now(), ageCutoff, string(BackupAutoDelete))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountExpired is the read-only companion to SweepExpired, used by the cleanup
// dry-run path.
func (s *State) CountExpired(ctx context.Context, ageCutoff time.Time) (int, error) {
	var n int
	err := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s
			WHERE retention_until < $1 AND created_at < $2 AND backup_type <> $3`,
			s.tableName("field_data_backups")),
		s.now(), ageCutoff, string(BackupAutoDelete)).Scan(&n)
	return n, err
}

// ExpiredSamples returns up to n backups that a sweep with the same cutoff
// would delete.
func (s *State) ExpiredSamples(ctx context.Context, ageCutoff time.Time, n int) ([]FieldDataBackup, error) {
	rows, err := s.pgConn.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, form_id, table_name, column_name, column_type,
			backup_type, data_snapshot, retention_until, created_by, created_at
			FROM %s WHERE retention_until < $1 AND created_at < $2 AND backup_type <> $3
			ORDER BY created_at LIMIT $4`,
			s.tableName("field_data_backups")),
		s.now(), ageCutoff, string(BackupAutoDelete), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []FieldDataBackup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

func scanBackup(row rowScanner) (*FieldDataBackup, error) {
	var b FieldDataBackup
	var backupType string
	var raw []byte

	err := row.Scan(&b.ID, &b.FormID, &b.TableName, &b.ColumnName, &b.ColumnType,
		&backupType, &raw, &b.RetentionUntil, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		return nil, err
	}

	b.BackupType = BackupType(backupType)
	if err := json.Unmarshal(raw, &b.DataSnapshot); err != nil {
		return nil, err
	}

	return &b, nil
}
