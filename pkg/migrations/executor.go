// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

const DefaultDDLTimeout = 60 * time.Second

// Executor runs one primitive migration at a time: validate, back up if
// destructive, execute the DDL and journal the result, all inside a single
// transaction. On failure the transaction rolls back and a failure journal
// row is written outside it.
type Executor struct {
	state         *state.State
	retentionDays int
	ddlTimeout    time.Duration
	logger        *slog.Logger
}

// Result is the outcome of a successfully applied change.
type Result struct {
	Migration *state.FieldMigration

	// RestoredRows is set for RESTORE changes only.
	RestoredRows int
}

type ExecutorOption func(*Executor)

func WithRetentionDays(days int) ExecutorOption {
	return func(e *Executor) {
		e.retentionDays = days
	}
}

func WithDDLTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.ddlTimeout = d
	}
}

func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

func NewExecutor(st *state.State, opts ...ExecutorOption) *Executor {
	e := &Executor{
		state:         st,
		retentionDays: state.DefaultRetentionDays,
		ddlTimeout:    DefaultDDLTimeout,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply executes one change for a form. The transaction either commits the
// backup, the DDL and the journal entry together, or none of them.
func (e *Executor) Apply(ctx context.Context, formID, actor string, change Change) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.ddlTimeout)
	defer cancel()

	if change.Type == ChangeRestore {
		return e.applyRestore(ctx, actor, change.Restore)
	}

	rv, err := change.resolver()
	if err != nil {
		return nil, err
	}

	var entry *state.FieldMigration
	resolved := false

	err = e.state.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		r, err := rv.resolve(ctx, tx)
		if err != nil {
			return err
		}
		resolved = true

		var backupID *string
		if r.requiresBackup {
			b, err := e.state.CreateBackupTx(ctx, tx, formID, r.tableName,
				e.backupColumn(change, r), r.backupType, e.retentionDays, actor)
			if err != nil {
				return err
			}
			backupID = &b.ID
		}

		if _, err := tx.ExecContext(ctx, r.ddl); err != nil {
			return err
		}

		entry = &state.FieldMigration{
			FieldID:       optional(change.FieldID()),
			FormID:        formID,
			MigrationType: r.migrationType,
			TableName:     r.tableName,
			ColumnName:    r.columnName,
			OldValue:      r.oldValue,
			NewValue:      r.newValue,
			RollbackSQL:   &r.rollbackSQL,
			BackupID:      backupID,
			ExecutedBy:    actor,
			Success:       true,
		}
		_, err = e.state.RecordMigrationTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		// Validation failures abort before any DDL is attempted; only actual
		// execution failures leave a failure row for operators.
		if resolved && !IsStructural(err) {
			e.recordFailure(ctx, formID, actor, change, err)
		}
		return nil, err
	}

	e.logger.Info("migration applied",
		slog.String("form", formID),
		slog.String("type", string(entry.MigrationType)),
		slog.String("table", entry.TableName),
		slog.String("column", entry.ColumnName))

	return &Result{Migration: entry}, nil
}

// backupColumn returns the column whose data is snapshotted for a destructive
// change: the dropped column for deletes, the altered column for type changes.
func (e *Executor) backupColumn(change Change, r *resolvedOp) string {
	if change.Type == ChangeDeleteField {
		return change.Drop.ColumnName
	}
	return r.columnName
}

func (e *Executor) applyRestore(ctx context.Context, actor string, op *OpRestoreBackup) (*Result, error) {
	var entry *state.FieldMigration
	var restored int

	err := e.state.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		n, b, err := e.state.RestoreTx(ctx, tx, op.BackupID)
		if err != nil {
			return err
		}
		restored = n

		entry = &state.FieldMigration{
			FormID:        b.FormID,
			MigrationType: state.MigrationRestore,
			TableName:     b.TableName,
			ColumnName:    b.ColumnName,
			NewValue: &state.ColumnValue{
				ColumnName:   b.ColumnName,
				ColumnType:   b.ColumnType,
				RestoredRows: n,
			},
			BackupID:   &b.ID,
			ExecutedBy: actor,
			Success:    true,
		}
		_, err = e.state.RecordMigrationTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		if !IsStructural(err) {
			e.recordRestoreFailure(ctx, actor, op, err)
		}
		return nil, err
	}

	e.logger.Info("backup restored",
		slog.String("backup", op.BackupID),
		slog.String("table", entry.TableName),
		slog.Int("rows", restored))

	return &Result{Migration: entry, RestoredRows: restored}, nil
}

// ExecuteRollback replays a journal entry's stored rollback SQL after guarding
// it, and journals the inverse entry. The new entry swaps the original's
// old/new values and carries no rollback SQL: a rollback is not itself
// rollback-able by SQL alone.
func (e *Executor) ExecuteRollback(ctx context.Context, m *state.FieldMigration, currentFields []schema.Field, actor string) (*state.FieldMigration, error) {
	if ok, reason := state.CanRollback(m, currentFields); !ok {
		return nil, RollbackNotAllowedError{MigrationID: m.ID, Reason: reason}
	}
	if err := guardRollbackSQL(*m.RollbackSQL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.ddlTimeout)
	defer cancel()

	var entry *state.FieldMigration
	err := e.state.WithTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, *m.RollbackSQL); err != nil {
			return err
		}

		entry = &state.FieldMigration{
			FieldID:       m.FieldID,
			FormID:        m.FormID,
			MigrationType: m.MigrationType,
			TableName:     m.TableName,
			ColumnName:    m.ColumnName,
			OldValue:      m.NewValue,
			NewValue:      m.OldValue,
			ExecutedBy:    actor,
			Success:       true,
		}
		_, err := e.state.RecordMigrationTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("migration rolled back",
		slog.String("migration", m.ID),
		slog.String("table", m.TableName),
		slog.String("column", m.ColumnName))

	return entry, nil
}

func (e *Executor) recordFailure(ctx context.Context, formID, actor string, change Change, execErr error) {
	entry := &state.FieldMigration{
		FieldID:       optional(change.FieldID()),
		FormID:        formID,
		MigrationType: journalType(change.Type),
		TableName:     change.TableName(),
		ColumnName:    change.ColumnName(),
		ExecutedBy:    actor,
		Success:       false,
		ErrorMessage:  optional(execErr.Error()),
	}

	if _, err := e.state.RecordMigration(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Error("unable to record failed migration",
			slog.String("form", formID),
			slog.Any("err", err))
	}
}

func (e *Executor) recordRestoreFailure(ctx context.Context, actor string, op *OpRestoreBackup, execErr error) {
	b, err := e.state.GetBackup(context.WithoutCancel(ctx), op.BackupID)
	if err != nil {
		e.logger.Error("unable to record failed restore",
			slog.String("backup", op.BackupID),
			slog.Any("err", err))
		return
	}

	entry := &state.FieldMigration{
		FormID:        b.FormID,
		MigrationType: state.MigrationRestore,
		TableName:     b.TableName,
		ColumnName:    b.ColumnName,
		BackupID:      &b.ID,
		ExecutedBy:    actor,
		Success:       false,
		ErrorMessage:  optional(execErr.Error()),
	}
	if _, err := e.state.RecordMigration(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Error("unable to record failed restore",
			slog.String("backup", op.BackupID),
			slog.Any("err", err))
	}
}

// journalType maps a change kind to the journal's migration type.
func journalType(kind ChangeKind) state.MigrationType {
	switch kind {
	case ChangeAddField:
		return state.MigrationAddColumn
	case ChangeDeleteField:
		return state.MigrationDropColumn
	case ChangeRenameField:
		return state.MigrationRenameColumn
	case ChangeChangeType:
		return state.MigrationModifyColumn
	case ChangeRestore:
		return state.MigrationRestore
	}
	return ""
}

// IsStructural reports whether the error is a validation or state error that
// no amount of retrying will fix. Structural failures are terminal for a
// queued job.
func IsStructural(err error) bool {
	var (
		invalidIdentifier schema.InvalidIdentifierError
		unknownType       schema.UnknownFieldTypeError
		tableMissing      schema.TableDoesNotExistError
		columnMissing     schema.ColumnDoesNotExistError
		columnExists      schema.ColumnAlreadyExistsError
		noTable           schema.NoTableError
		noPK              schema.NoPrimaryKeyError
		unsupported       UnsupportedConversionError
		dataLoss          ConversionDataLossError
		unknownChange     UnknownChangeTypeError
		rollbackDenied    RollbackNotAllowedError
		sqlRejected       RollbackSQLRejectedError
		backupMissing     state.BackupNotFoundError
		backupExpired     state.BackupExpiredError
		badRetention      state.InvalidRetentionError
		emptyPlan         EmptyPlanError
		invalidPlan       InvalidPlanError
	)

	return errors.As(err, &invalidIdentifier) ||
		errors.As(err, &unknownType) ||
		errors.As(err, &tableMissing) ||
		errors.As(err, &columnMissing) ||
		errors.As(err, &columnExists) ||
		errors.As(err, &noTable) ||
		errors.As(err, &noPK) ||
		errors.As(err, &unsupported) ||
		errors.As(err, &dataLoss) ||
		errors.As(err, &unknownChange) ||
		errors.As(err, &rollbackDenied) ||
		errors.As(err, &sqlRejected) ||
		errors.As(err, &backupMissing) ||
		errors.As(err, &backupExpired) ||
		errors.As(err, &badRetention) ||
		errors.As(err, &emptyPlan) ||
		errors.As(err, &invalidPlan)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
