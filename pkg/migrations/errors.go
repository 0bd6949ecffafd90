// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"fmt"
	"strings"

	"github.com/qcollector/fieldmigrate/pkg/schema"
)

type UnsupportedConversionError struct {
	From schema.FieldType
	To   schema.FieldType
}

func (e UnsupportedConversionError) Error() string {
	return fmt.Sprintf("conversion from %q to %q is not supported", e.From, e.To)
}

// ConversionDataLossError reports existing values that would not survive a
// type conversion. Violations carry the offending row's primary key.
type ConversionDataLossError struct {
	Table      string
	Column     string
	To         schema.FieldType
	Violations []string
}

func (e ConversionDataLossError) Error() string {
	return fmt.Sprintf("column %q on table %q has values incompatible with %q: %s",
		e.Column, e.Table, e.To, strings.Join(e.Violations, "; "))
}

type RollbackNotAllowedError struct {
	MigrationID string
	Reason      string
}

func (e RollbackNotAllowedError) Error() string {
	return fmt.Sprintf("migration %q cannot be rolled back: %s", e.MigrationID, e.Reason)
}

// RollbackSQLRejectedError is returned when a stored rollback statement fails
// the pre-execution parse guard.
type RollbackSQLRejectedError struct {
	SQL    string
	Reason string
}

func (e RollbackSQLRejectedError) Error() string {
	return fmt.Sprintf("rollback SQL rejected: %s", e.Reason)
}

type EmptyPlanError struct{}

func (e EmptyPlanError) Error() string {
	return "plan contains no changes"
}

type InvalidPlanError struct {
	Index  int
	Reason string
}

func (e InvalidPlanError) Error() string {
	return fmt.Sprintf("change %d is invalid: %s", e.Index, e.Reason)
}
