// SPDX-License-Identifier: Apache-2.0

package migrations_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcollector/fieldmigrate/pkg/migrations"
	"github.com/qcollector/fieldmigrate/pkg/schema"
)

func TestChangeJSONRoundTrip(t *testing.T) {
	t.Parallel()

	changes := []migrations.Change{
		{
			Type: migrations.ChangeAddField,
			Add: &migrations.OpAddField{
				FieldID: "f1", TableName: "t", ColumnName: "email",
				DataType: schema.FieldTypeEmail,
			},
		},
		{
			Type: migrations.ChangeDeleteField,
			Drop: &migrations.OpDropField{
				FieldID: "f2", TableName: "t", ColumnName: "age", Backup: true,
			},
		},
		{
			Type: migrations.ChangeRenameField,
			Rename: &migrations.OpRenameField{
				FieldID: "f3", TableName: "t",
				OldColumnName: "a", NewColumnName: "b",
			},
		},
		{
			Type: migrations.ChangeChangeType,
			Alter: &migrations.OpChangeType{
				FieldID: "f4", TableName: "t", ColumnName: "score",
				OldType: schema.FieldTypeShortText, NewType: schema.FieldTypeNumber,
			},
		},
		{
			Type:    migrations.ChangeRestore,
			Restore: &migrations.OpRestoreBackup{BackupID: "b-1"},
		},
	}

	for _, c := range changes {
		t.Run(string(c.Type), func(t *testing.T) {
			raw, err := json.Marshal(c)
			require.NoError(t, err)

			var back migrations.Change
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, c, back)
		})
	}
}

func TestChangeJSONCarriesFlatTypeTag(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(migrations.Change{
		Type: migrations.ChangeAddField,
		Add: &migrations.OpAddField{
			FieldID: "f1", TableName: "t", ColumnName: "email",
			DataType: schema.FieldTypeEmail,
		},
	})
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(raw, &flat))
	assert.Equal(t, "ADD_FIELD", flat["type"])
	assert.Equal(t, "email", flat["columnName"])
}

func TestChangeUnmarshalDefaultsDeleteBackupTrue(t *testing.T) {
	t.Parallel()

	var c migrations.Change
	err := json.Unmarshal([]byte(`{"type":"DELETE_FIELD","fieldId":"f1","tableName":"t","columnName":"age"}`), &c)
	require.NoError(t, err)
	assert.True(t, c.Drop.Backup, "backup defaults to true when omitted")

	err = json.Unmarshal([]byte(`{"type":"DELETE_FIELD","fieldId":"f1","tableName":"t","columnName":"age","backup":false}`), &c)
	require.NoError(t, err)
	assert.False(t, c.Drop.Backup)
}

func TestChangeUnmarshalRejectsUnknownType(t *testing.T) {
	t.Parallel()

	var c migrations.Change
	err := json.Unmarshal([]byte(`{"type":"EXPLODE_FIELD"}`), &c)
	var unknown migrations.UnknownChangeTypeError
	assert.ErrorAs(t, err, &unknown)
}

func TestParsePlan(t *testing.T) {
	t.Parallel()

	t.Run("valid plan", func(t *testing.T) {
		plan, err := migrations.ParsePlan([]byte(`{
			"formId": "form-1",
			"changes": [
				{"type": "ADD_FIELD", "fieldId": "f1", "tableName": "t", "columnName": "email", "dataType": "email"}
			]
		}`))
		require.NoError(t, err)
		assert.Equal(t, "form-1", plan.FormID)
		require.Len(t, plan.Changes, 1)
		assert.Equal(t, migrations.ChangeAddField, plan.Changes[0].Type)
	})

	t.Run("empty changes", func(t *testing.T) {
		_, err := migrations.ParsePlan([]byte(`{"formId": "form-1", "changes": []}`))
		assert.Error(t, err)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := migrations.ParsePlan([]byte(`{"formId": "form-1", "changes": [{"type": "ADD_FIELD"}]}`))
		assert.Error(t, err)
	})
}
