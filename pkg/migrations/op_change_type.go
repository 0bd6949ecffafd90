// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

// OpChangeType alters a field column's physical type. The conversion is
// validated against the policy table and, where required, against every
// existing value before any DDL runs. Destructive: a PRE_TYPE_CHANGE backup is
// taken in the same transaction. The rollback returns the column to its prior
// type only; values lost to the cast come back via RESTORE.
type OpChangeType struct {
	FieldID    string           `json:"fieldId"`
	TableName  string           `json:"tableName"`
	ColumnName string           `json:"columnName"`
	OldType    schema.FieldType `json:"oldType"`
	NewType    schema.FieldType `json:"newType"`
}

var _ resolver = (*OpChangeType)(nil)

func (o *OpChangeType) resolve(ctx context.Context, q schema.Querier) (*resolvedOp, error) {
	if err := schema.ValidateIdentifier(o.TableName); err != nil {
		return nil, err
	}
	if err := schema.ValidateIdentifier(o.ColumnName); err != nil {
		return nil, err
	}
	oldPhysical, err := schema.ColumnType(o.OldType)
	if err != nil {
		return nil, err
	}
	newPhysical, err := schema.ColumnType(o.NewType)
	if err != nil {
		return nil, err
	}

	tableExists, err := schema.TableExists(ctx, q, o.TableName)
	if err != nil {
		return nil, err
	}
	if !tableExists {
		return nil, schema.TableDoesNotExistError{Name: o.TableName}
	}

	columnExists, err := schema.ColumnExists(ctx, q, o.TableName, o.ColumnName)
	if err != nil {
		return nil, err
	}
	if !columnExists {
		return nil, schema.ColumnDoesNotExistError{Table: o.TableName, Name: o.ColumnName}
	}

	// The conversion pre-check runs before backup and DDL: an impossible
	// conversion aborts with no journal entry because no DDL was attempted.
	if _, err := ValidateConversion(ctx, q, o.TableName, o.ColumnName, o.OldType, o.NewType); err != nil {
		return nil, err
	}

	return &resolvedOp{
		migrationType: state.MigrationModifyColumn,
		tableName:     o.TableName,
		columnName:    o.ColumnName,
		ddl: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(o.ColumnName),
			newPhysical,
			pq.QuoteIdentifier(o.ColumnName),
			newPhysical),
		rollbackSQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(o.ColumnName),
			oldPhysical,
			pq.QuoteIdentifier(o.ColumnName),
			oldPhysical),
		oldValue: &state.ColumnValue{
			ColumnName: o.ColumnName,
			DataType:   o.OldType,
			ColumnType: oldPhysical,
		},
		newValue: &state.ColumnValue{
			ColumnName: o.ColumnName,
			DataType:   o.NewType,
			ColumnType: newPhysical,
		},
		requiresBackup: true,
		backupType:     state.BackupPreTypeChange,
	}, nil
}
