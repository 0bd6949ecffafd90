// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"github.com/qcollector/fieldmigrate/pkg/schema"
)

// Detect compares a form's old and new field lists and returns the ordered
// plan of primitive changes that brings the physical schema in line with the
// new list. Fields are matched by id; pure reordering yields an empty plan.
//
// A field that was both renamed and retyped produces two changes, rename
// first, so that the type change and its backup reference the post-rename
// column. Deletions are emitted last, in old-list order.
func Detect(form *schema.Form, oldFields, newFields []schema.Field) (Plan, error) {
	var plan Plan

	for _, f := range newFields {
		table, err := schema.ResolveTable(form, f)
		if err != nil {
			return nil, err
		}

		old, existed := schema.FieldByID(oldFields, f.ID)
		if !existed {
			plan = append(plan, Change{
				Type: ChangeAddField,
				Add: &OpAddField{
					FieldID:    f.ID,
					TableName:  table,
					ColumnName: f.ColumnName,
					DataType:   f.DataType,
				},
			})
			continue
		}

		if old.ColumnName != f.ColumnName {
			plan = append(plan, Change{
				Type: ChangeRenameField,
				Rename: &OpRenameField{
					FieldID:       f.ID,
					TableName:     table,
					OldColumnName: old.ColumnName,
					NewColumnName: f.ColumnName,
				},
			})
		}

		if old.DataType != f.DataType {
			plan = append(plan, Change{
				Type: ChangeChangeType,
				Alter: &OpChangeType{
					FieldID:    f.ID,
					TableName:  table,
					ColumnName: f.ColumnName,
					OldType:    old.DataType,
					NewType:    f.DataType,
				},
			})
		}
	}

	for _, f := range oldFields {
		if _, stillThere := schema.FieldByID(newFields, f.ID); stillThere {
			continue
		}

		table, err := schema.ResolveTable(form, f)
		if err != nil {
			return nil, err
		}

		plan = append(plan, Change{
			Type: ChangeDeleteField,
			Drop: &OpDropField{
				FieldID:    f.ID,
				TableName:  table,
				ColumnName: f.ColumnName,
				Backup:     true,
			},
		})
	}

	return plan, nil
}
