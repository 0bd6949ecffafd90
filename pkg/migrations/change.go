// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"encoding/json"
	"fmt"
)

// ChangeKind tags the variant carried by a Change.
type ChangeKind string

const (
	ChangeAddField    ChangeKind = "ADD_FIELD"
	ChangeDeleteField ChangeKind = "DELETE_FIELD"
	ChangeRenameField ChangeKind = "RENAME_FIELD"
	ChangeChangeType  ChangeKind = "CHANGE_TYPE"
	ChangeRestore     ChangeKind = "RESTORE"
)

// Change is the tagged variant describing one primitive migration. Exactly one
// arm is set, matching Type. On the wire a change is a flat object carrying
// "type" plus the arm's fields.
type Change struct {
	Type ChangeKind

	Add     *OpAddField
	Drop    *OpDropField
	Rename  *OpRenameField
	Alter   *OpChangeType
	Restore *OpRestoreBackup
}

// Plan is an ordered list of primitive changes for one form.
type Plan []Change

type UnknownChangeTypeError struct {
	Type ChangeKind
}

func (e UnknownChangeTypeError) Error() string {
	return fmt.Sprintf("unknown change type %q", string(e.Type))
}

// FieldID returns the field the change targets, if any. RESTORE changes carry
// no field; the backup identifies the column.
func (c *Change) FieldID() string {
	switch c.Type {
	case ChangeAddField:
		return c.Add.FieldID
	case ChangeDeleteField:
		return c.Drop.FieldID
	case ChangeRenameField:
		return c.Rename.FieldID
	case ChangeChangeType:
		return c.Alter.FieldID
	}
	return ""
}

// TableName returns the dynamic table the change targets. Empty for RESTORE,
// where the table is recorded on the backup.
func (c *Change) TableName() string {
	switch c.Type {
	case ChangeAddField:
		return c.Add.TableName
	case ChangeDeleteField:
		return c.Drop.TableName
	case ChangeRenameField:
		return c.Rename.TableName
	case ChangeChangeType:
		return c.Alter.TableName
	}
	return ""
}

// ColumnName returns the column the change targets. For renames this is the
// old name.
func (c *Change) ColumnName() string {
	switch c.Type {
	case ChangeAddField:
		return c.Add.ColumnName
	case ChangeDeleteField:
		return c.Drop.ColumnName
	case ChangeRenameField:
		return c.Rename.OldColumnName
	case ChangeChangeType:
		return c.Alter.ColumnName
	}
	return ""
}

func (c Change) MarshalJSON() ([]byte, error) {
	var arm any
	switch c.Type {
	case ChangeAddField:
		arm = c.Add
	case ChangeDeleteField:
		arm = c.Drop
	case ChangeRenameField:
		arm = c.Rename
	case ChangeChangeType:
		arm = c.Alter
	case ChangeRestore:
		arm = c.Restore
	default:
		return nil, UnknownChangeTypeError{Type: c.Type}
	}

	raw, err := json.Marshal(arm)
	if err != nil {
		return nil, err
	}

	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	flat["type"] = string(c.Type)

	return json.Marshal(flat)
}

func (c *Change) UnmarshalJSON(data []byte) error {
	var head struct {
		Type ChangeKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	*c = Change{Type: head.Type}

	switch head.Type {
	case ChangeAddField:
		c.Add = &OpAddField{}
		return json.Unmarshal(data, c.Add)
	case ChangeDeleteField:
		c.Drop = &OpDropField{Backup: true}
		return json.Unmarshal(data, c.Drop)
	case ChangeRenameField:
		c.Rename = &OpRenameField{}
		return json.Unmarshal(data, c.Rename)
	case ChangeChangeType:
		c.Alter = &OpChangeType{}
		return json.Unmarshal(data, c.Alter)
	case ChangeRestore:
		c.Restore = &OpRestoreBackup{}
		return json.Unmarshal(data, c.Restore)
	}
	return UnknownChangeTypeError{Type: head.Type}
}
