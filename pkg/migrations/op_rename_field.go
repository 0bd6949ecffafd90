// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

// OpRenameField renames a field's column. Non-destructive; the rollback is the
// inverse rename.
type OpRenameField struct {
	FieldID       string `json:"fieldId"`
	TableName     string `json:"tableName"`
	OldColumnName string `json:"oldColumnName"`
	NewColumnName string `json:"newColumnName"`
}

var _ resolver = (*OpRenameField)(nil)

func (o *OpRenameField) resolve(ctx context.Context, q schema.Querier) (*resolvedOp, error) {
	if err := schema.ValidateIdentifier(o.TableName); err != nil {
		return nil, err
	}
	if err := schema.ValidateIdentifier(o.OldColumnName); err != nil {
		return nil, err
	}
	newColumn, err := schema.SanitizeIdentifier(o.NewColumnName)
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

	oldExists, err := schema.ColumnExists(ctx, q, o.TableName, o.OldColumnName)
	if err != nil {
		return nil, err
	}
	if !oldExists {
		return nil, schema.ColumnDoesNotExistError{Table: o.TableName, Name: o.OldColumnName}
	}

	newExists, err := schema.ColumnExists(ctx, q, o.TableName, newColumn)
	if err != nil {
		return nil, err
	}
	if newExists {
		return nil, schema.ColumnAlreadyExistsError{Table: o.TableName, Name: newColumn}
	}

	return &resolvedOp{
		migrationType: state.MigrationRenameColumn,
		tableName:     o.TableName,
		columnName:    newColumn,
		ddl: fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(o.OldColumnName),
			pq.QuoteIdentifier(newColumn)),
		rollbackSQL: fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(newColumn),
			pq.QuoteIdentifier(o.OldColumnName)),
		oldValue: &state.ColumnValue{ColumnName: o.OldColumnName},
		newValue: &state.ColumnValue{ColumnName: newColumn},
	}, nil
}
