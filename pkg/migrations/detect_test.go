// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
	"github.com/qcollector/fieldmigrate/pkg/schema"
)

func testForm() *schema.Form {
	return &schema.Form{
		ID:        "form-1",
		TableName: "contact_form",
	}
}

func TestDetectIdenticalListsYieldNoChanges(t *testing.T) {
	t.Parallel()

	fields := []schema.Field{
		{ID: "f1", FormID: "form-1", ColumnName: "email", DataType: schema.FieldTypeEmail},
		{ID: "f2", FormID: "form-1", ColumnName: "age", DataType: schema.FieldTypeNumber},
	}

	plan, err := migrations.Detect(testForm(), fields, fields)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestDetectReorderingYieldsNoChanges(t *testing.T) {
	t.Parallel()

	f1 := schema.Field{ID: "f1", FormID: "form-1", ColumnName: "email", DataType: schema.FieldTypeEmail}
	f2 := schema.Field{ID: "f2", FormID: "form-1", ColumnName: "age", DataType: schema.FieldTypeNumber}

	plan, err := migrations.Detect(testForm(), []schema.Field{f1, f2}, []schema.Field{f2, f1})
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestDetectAddAndDelete(t *testing.T) {
	t.Parallel()

	oldFields := []schema.Field{
		{ID: "f1", FormID: "form-1", ColumnName: "email", DataType: schema.FieldTypeEmail},
	}
	newFields := []schema.Field{
		{ID: "f2", FormID: "form-1", ColumnName: "age", DataType: schema.FieldTypeNumber},
	}

	plan, err := migrations.Detect(testForm(), oldFields, newFields)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	assert.Equal(t, migrations.ChangeAddField, plan[0].Type)
	assert.Equal(t, "age", plan[0].Add.ColumnName)
	assert.Equal(t, "contact_form", plan[0].Add.TableName)

	assert.Equal(t, migrations.ChangeDeleteField, plan[1].Type)
	assert.Equal(t, "email", plan[1].Drop.ColumnName)
	assert.True(t, plan[1].Drop.Backup, "deletes detected from a form diff always back up")
}

func TestDetectRenameBeforeTypeChange(t *testing.T) {
	t.Parallel()

	oldFields := []schema.Field{
		{ID: "f1", FormID: "form-1", ColumnName: "score_text", DataType: schema.FieldTypeShortText},
	}
	newFields := []schema.Field{
		{ID: "f1", FormID: "form-1", ColumnName: "score", DataType: schema.FieldTypeNumber},
	}

	plan, err := migrations.Detect(testForm(), oldFields, newFields)
	require.NoError(t, err)
	require.Len(t, plan, 2)

	require.Equal(t, migrations.ChangeRenameField, plan[0].Type)
	assert.Equal(t, "score_text", plan[0].Rename.OldColumnName)
	assert.Equal(t, "score", plan[0].Rename.NewColumnName)

	require.Equal(t, migrations.ChangeChangeType, plan[1].Type)
	// The type change targets the post-rename column.
	assert.Equal(t, "score", plan[1].Alter.ColumnName)
	assert.Equal(t, schema.FieldTypeShortText, plan[1].Alter.OldType)
	assert.Equal(t, schema.FieldTypeNumber, plan[1].Alter.NewType)
}

func TestDetectSubFormFieldResolvesToSubFormTable(t *testing.T) {
	t.Parallel()

	subID := "sub-1"
	form := testForm()
	form.SubFormTables = map[string]string{"sub-1": "contact_form_items"}

	newFields := []schema.Field{
		{ID: "f9", FormID: "form-1", ColumnName: "qty", DataType: schema.FieldTypeNumber, SubFormID: &subID},
	}

	plan, err := migrations.Detect(form, nil, newFields)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "contact_form_items", plan[0].Add.TableName)
}
