// SPDX-License-Identifier: Apache-2.0

package schema

import "fmt"

type InvalidIdentifierError struct {
	Name   string
	Reason string
}

func (e InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier %q: %s", e.Name, e.Reason)
}

type UnknownFieldTypeError struct {
	Type FieldType
}

func (e UnknownFieldTypeError) Error() string {
	return fmt.Sprintf("unknown field type %q", string(e.Type))
}

type TableDoesNotExistError struct {
	Name string
}

func (e TableDoesNotExistError) Error() string {
	return fmt.Sprintf("table %q does not exist", e.Name)
}

type ColumnDoesNotExistError struct {
	Table string
	Name  string
}

func (e ColumnDoesNotExistError) Error() string {
	return fmt.Sprintf("column %q does not exist on table %q", e.Name, e.Table)
}

type ColumnAlreadyExistsError struct {
	Table string
	Name  string
}

func (e ColumnAlreadyExistsError) Error() string {
	return fmt.Sprintf("column %q already exists in table %q", e.Name, e.Table)
}

type FormNotFoundError struct {
	ID string
}

func (e FormNotFoundError) Error() string {
	return fmt.Sprintf("form %q not found", e.ID)
}

type NoTableError struct {
	FormID string
}

func (e NoTableError) Error() string {
	return fmt.Sprintf("form %q has no dynamic table", e.FormID)
}

type NoPrimaryKeyError struct {
	Table string
}

func (e NoPrimaryKeyError) Error() string {
	return fmt.Sprintf("table %q has no single-column primary key", e.Table)
}
