// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

// OpDropField drops the column of a deleted field. Destructive: a PRE_DELETE
// backup is taken in the same transaction unless Backup is explicitly false.
// The rollback restores only the column shape; data comes back via a separate
// RESTORE against the recorded backup.
type OpDropField struct {
	FieldID    string `json:"fieldId"`
	TableName  string `json:"tableName"`
	ColumnName string `json:"columnName"`
	Backup     bool   `json:"backup"`
}

var _ resolver = (*OpDropField)(nil)

func (o *OpDropField) resolve(ctx context.Context, q schema.Querier) (*resolvedOp, error) {
	if err := schema.ValidateIdentifier(o.TableName); err != nil {
		return nil, err
	}
	if err := schema.ValidateIdentifier(o.ColumnName); err != nil {
		return nil, err
	}

	tableExists, err := schema.TableExists(ctx, q, o.TableName)
	if err != nil {
		return nil, err
	}
	if !tableExists {
		return nil, schema.TableDoesNotExistError{Name: o.TableName}
	}

	// The column's physical type is read from the catalog so the rollback can
	// re-create the column as it actually was.
	currentType, err := schema.CurrentColumnType(ctx, q, o.TableName, o.ColumnName)
	if err != nil {
		return nil, err
	}

	return &resolvedOp{
		migrationType: state.MigrationDropColumn,
		tableName:     o.TableName,
		columnName:    o.ColumnName,
		ddl: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(o.ColumnName)),
		rollbackSQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(o.ColumnName),
			currentType),
		oldValue: &state.ColumnValue{
			ColumnName: o.ColumnName,
			ColumnType: currentType,
		},
		requiresBackup: o.Backup,
		backupType:     state.BackupPreDelete,
	}, nil
}
