// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"

	"github.com/qcollector/fieldmigrate/pkg/schema"
	"github.com/qcollector/fieldmigrate/pkg/state"
)

// resolvedOp is a primitive change after sanitization, existence checks and
// conversion validation: the exact DDL to run, its inverse, the journal
// values, and whether a backup must be taken first.
type resolvedOp struct {
	migrationType state.MigrationType
	tableName     string
	columnName    string
	ddl           string
	rollbackSQL   string
	oldValue      *state.ColumnValue
	newValue      *state.ColumnValue

	requiresBackup bool
	backupType     state.BackupType
}

// resolver is implemented by every DDL-producing arm of the Change variant.
// RESTORE is the exception: it replays data rather than emitting DDL and is
// handled directly by the executor.
type resolver interface {
	resolve(ctx context.Context, q schema.Querier) (*resolvedOp, error)
}

func (c *Change) resolver() (resolver, error) {
	switch c.Type {
	case ChangeAddField:
		return c.Add, nil
	case ChangeDeleteField:
		return c.Drop, nil
	case ChangeRenameField:
		return c.Rename, nil
	case ChangeChangeType:
		return c.Alter, nil
	}
	return nil, UnknownChangeTypeError{Type: c.Type}
}
