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

	"github.com/qcollector/fieldmigrate/pkg/schema"
)

// MigrationType identifies the primitive a journal entry records.
type MigrationType string

const (
	MigrationAddColumn    MigrationType = "ADD_COLUMN"
	MigrationDropColumn   MigrationType = "DROP_COLUMN"
	MigrationRenameColumn MigrationType = "RENAME_COLUMN"
	MigrationModifyColumn MigrationType = "MODIFY_COLUMN"
	MigrationRestore      MigrationType = "RESTORE"
)

// ColumnValue is the structured before/after record attached to a journal
// entry. Only the fields relevant to the primitive are set.
type ColumnValue struct {
	ColumnName string           `json:"columnName,omitempty"`
	DataType   schema.FieldType `json:"dataType,omitempty"`
	ColumnType string           `json:"columnType,omitempty"`
	// RestoredRows is only set on RESTORE entries.
	RestoredRows int `json:"restoredRows,omitempty"`
}

// FieldMigration is one journal entry: a single attempted DDL primitive.
// Entries are append-only; they are never updated and only removed by the
// cleanup of expired successful entries.
type FieldMigration struct {
	ID            string        `json:"id"`
	FieldID       *string       `json:"fieldId"`
	FormID        string        `json:"formId"`
	MigrationType MigrationType `json:"migrationType"`
	TableName     string        `json:"tableName"`
	ColumnName    string        `json:"columnName"`
	OldValue      *ColumnValue  `json:"oldValue"`
	NewValue      *ColumnValue  `json:"newValue"`
	RollbackSQL   *string       `json:"rollbackSql"`
	BackupID      *string       `json:"backupId"`
	ExecutedBy    string        `json:"executedBy"`
	ExecutedAt    time.Time     `json:"executedAt"`
	Success       bool          `json:"success"`
	ErrorMessage  *string       `json:"errorMessage"`
}

type MigrationNotFoundError struct {
	ID string
}

func (e MigrationNotFoundError) Error() string {
	return fmt.Sprintf("migration %q not found", e.ID)
}

// SuccessFilter narrows a history listing.
type SuccessFilter int

const (
	AnyOutcome SuccessFilter = iota
	OnlySuccess
	OnlyFailed
)

// ListOptions controls history pagination and filtering.
type ListOptions struct {
	Limit   int
	Offset  int
	Outcome SuccessFilter
}

// RecordMigration inserts a journal entry using the state connection. Used for
// failure rows, which are deliberately written outside the DDL transaction.
func (s *State) RecordMigration(ctx context.Context, m *FieldMigration) (string, error) {
	return s.recordMigration(ctx, s.pgConn, m)
}

// RecordMigrationTx inserts a journal entry inside the given transaction, so
// that the entry commits or rolls back together with the DDL it describes.
func (s *State) RecordMigrationTx(ctx context.Context, tx *sql.Tx, m *FieldMigration) (string, error) {
	return s.recordMigration(ctx, tx, m)
}

func (s *State) recordMigration(ctx context.Context, q schema.Querier, m *FieldMigration) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.ExecutedAt.IsZero() {
		m.ExecutedAt = s.now()
	}

	oldValue, err := marshalNullable(m.OldValue)
	if err != nil {
		return "", err
	}
	newValue, err := marshalNullable(m.NewValue)
	if err != nil {
		return "", err
	}

	_, err = q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s
			(id, field_id, form_id, migration_type, table_name, column_name,
			old_value, new_value, rollback_sql, backup_id, executed_by,
			executed_at, success, error_message)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			s.tableName("field_migrations")),
		m.ID, m.FieldID, m.FormID, string(m.MigrationType), m.TableName,
		m.ColumnName, oldValue, newValue, m.RollbackSQL, m.BackupID,
		m.ExecutedBy, m.ExecutedAt, m.Success, m.ErrorMessage)
	if err != nil {
		return "", fmt.Errorf("unable to record migration: %w", err)
	}

	return m.ID, nil
}

// GetMigration returns a single journal entry by id.
func (s *State) GetMigration(ctx context.Context, id string) (*FieldMigration, error) {
	row := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, field_id, form_id, migration_type, table_name,
			column_name, old_value, new_value, rollback_sql, backup_id,
			executed_by, executed_at, success, error_message
			FROM %s WHERE id = $1`,
			s.tableName("field_migrations")),
		id)

	m, err := scanMigration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, MigrationNotFoundError{ID: id}
	}
	return m, err
}

// MigrationsByForm lists a form's journal entries, most recent first, with the
// total count of matching entries before pagination.
func (s *State) MigrationsByForm(ctx context.Context, formID string, opts ListOptions) ([]FieldMigration, int, error) {
	where := "form_id = $1"
	switch opts.Outcome {
	case OnlySuccess:
		where += " AND success"
	case OnlyFailed:
		where += " AND NOT success"
	}

	var total int
	err := s.pgConn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", s.tableName("field_migrations"), where),
		formID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pgConn.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, field_id, form_id, migration_type, table_name,
			column_name, old_value, new_value, rollback_sql, backup_id,
			executed_by, executed_at, success, error_message
			FROM %s WHERE %s
			ORDER BY executed_at DESC, id
			LIMIT $2 OFFSET $3`,
			s.tableName("field_migrations"), where),
		formID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []FieldMigration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating rows: %w", err)
	}

	return entries, total, nil
}

// CanRollback reports whether a journal entry may be rolled back, and the
// reason when it may not. An ADD_COLUMN is only rollback-able once its field
// has left the form's current field list: dropping the column from under a
// live field would orphan it.
func CanRollback(m *FieldMigration, currentFields []schema.Field) (bool, string) {
	if !m.Success {
		return false, "migration did not succeed"
	}
	if m.RollbackSQL == nil || *m.RollbackSQL == "" {
		return false, "migration has no rollback SQL"
	}
	if m.MigrationType == MigrationAddColumn && m.FieldID != nil {
		if _, ok := schema.FieldByID(currentFields, *m.FieldID); ok {
			return false, "field is still present in the form; rolling back would orphan it"
		}
	}
	return true, ""
}

// DeleteSuccessfulMigrationsBefore removes successful journal entries executed
// before the cutoff. Failed entries are kept for investigation.
func (s *State) DeleteSuccessfulMigrationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.pgConn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE success AND executed_at < $1",
			s.tableName("field_migrations")),
		cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMigration(row rowScanner) (*FieldMigration, error) {
	var m FieldMigration
	var migrationType string
	var oldValue, newValue []byte

	err := row.Scan(&m.ID, &m.FieldID, &m.FormID, &migrationType, &m.TableName,
		&m.ColumnName, &oldValue, &newValue, &m.RollbackSQL, &m.BackupID,
		&m.ExecutedBy, &m.ExecutedAt, &m.Success, &m.ErrorMessage)
	if err != nil {
		return nil, err
	}

	m.MigrationType = MigrationType(migrationType)
	if m.OldValue, err = unmarshalNullable(oldValue); err != nil {
		return nil, err
	}
	if m.NewValue, err = unmarshalNullable(newValue); err != nil {
		return nil, err
	}

	return &m, nil
}

func marshalNullable(v *ColumnValue) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(raw []byte) (*ColumnValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v ColumnValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
