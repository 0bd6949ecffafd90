// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"fmt"

	pgq "github.com/xataio/pg_query_go/v6"
)

// guardRollbackSQL parses a stored rollback statement before it is executed.
// Rollback SQL is generated by this package, but it is persisted and replayed
// later; the guard refuses anything that is not exactly one ALTER TABLE or
// RENAME statement, so a corrupted or tampered journal row cannot smuggle
// arbitrary SQL into a rollback transaction.
func guardRollbackSQL(sql string) error {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return RollbackSQLRejectedError{SQL: sql, Reason: fmt.Sprintf("parse error: %s", err)}
	}

	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return RollbackSQLRejectedError{SQL: sql, Reason: fmt.Sprintf("expected exactly one statement, got %d", len(stmts))}
	}

	switch stmts[0].GetStmt().GetNode().(type) {
	case *pgq.Node_AlterTableStmt, *pgq.Node_RenameStmt:
		return nil
	default:
		return RollbackSQLRejectedError{SQL: sql, Reason: "statement is not an ALTER TABLE or RENAME"}
	}
}
