// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

// OpAddField adds the column for a newly created field. Non-destructive: no
// backup is taken and the rollback is a plain drop.
type OpAddField struct {
	FieldID    string           `json:"fieldId"`
	TableName  string           `json:"tableName"`
	ColumnName string           `json:"columnName"`
	DataType   schema.FieldType `json:"dataType"`
}

var _ resolver = (*OpAddField)(nil)

func (o *OpAddField) resolve(ctx context.Context, q schema.Querier) (*resolvedOp, error) {
	if err := schema.ValidateIdentifier(o.TableName); err != nil {
		return nil, err
	}
	column, err := schema.SanitizeIdentifier(o.ColumnName)
	if err != nil {
		return nil, err
	}
	physicalType, err := schema.ColumnType(o.DataType)
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

	columnExists, err := schema.ColumnExists(ctx, q, o.TableName, column)
	if err != nil {
		return nil, err
	}
	if columnExists {
		return nil, schema.ColumnAlreadyExistsError{Table: o.TableName, Name: column}
	}

	return &resolvedOp{
		migrationType: state.MigrationAddColumn,
		tableName:     o.TableName,
		columnName:    column,
		ddl: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(column),
			physicalType),
		rollbackSQL: fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
			pq.QuoteIdentifier(o.TableName),
			pq.QuoteIdentifier(column)),
		newValue: &state.ColumnValue{
			ColumnName: column,
			DataType:   o.DataType,
			ColumnType: physicalType,
		},
	}, nil
}
