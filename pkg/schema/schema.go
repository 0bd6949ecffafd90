// SPDX-License-Identifier: Apache-2.0

package schema

// FieldType is the logical type of a form field. The physical column type for
// each logical type is fixed by ColumnType; changing the mapping is a breaking
// change for existing dynamic tables.
type FieldType string

const (
	FieldTypeShortText FieldType = "short_text"
	FieldTypeLongText  FieldType = "long_text"
	FieldTypeEmail     FieldType = "email"
	FieldTypePhone     FieldType = "phone"
	FieldTypeNumber    FieldType = "number"
	FieldTypeURL       FieldType = "url"
	FieldTypeDate      FieldType = "date"
	FieldTypeTime      FieldType = "time"
	FieldTypeDateTime  FieldType = "datetime"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeChoice    FieldType = "choice"
	FieldTypeRating    FieldType = "rating"
	FieldTypeSlider    FieldType = "slider"
	FieldTypeGeoPoint  FieldType = "geo_point"
	FieldTypeFileRef   FieldType = "file_ref"
)

// Field is a single form field as seen by the migration core. Fields are owned
// by the form service; the core never mutates them.
type Field struct {
	ID         string    `json:"id"`
	FormID     string    `json:"formId"`
	ColumnName string    `json:"columnName"`
	DataType   FieldType `json:"dataType"`

	// SubFormID, when set, places the field's column in the sub-form's own
	// dynamic table rather than the parent form's.
	SubFormID *string `json:"subFormId,omitempty"`
}

// Form is the owning form of a set of fields, with its dynamic table and the
// tables of any sub-forms.
type Form struct {
	ID        string  `json:"id"`
	TableName string  `json:"tableName"`
	Fields    []Field `json:"fields"`

	// SubFormTables maps sub-form ids to their dynamic table names.
	SubFormTables map[string]string `json:"subFormTables,omitempty"`
}

// ResolveTable returns the dynamic table a field's column lives in. Sub-form
// fields resolve to the sub-form's table. Resolution is performed on every
// call and never cached: a preceding rename may have changed the table.
func ResolveTable(form *Form, field Field) (string, error) {
	if form == nil {
		return "", FormNotFoundError{ID: field.FormID}
	}

	if field.SubFormID != nil && *field.SubFormID != "" {
		table, ok := form.SubFormTables[*field.SubFormID]
		if !ok || table == "" {
			return "", TableDoesNotExistError{Name: "subform:" + *field.SubFormID}
		}
		return table, nil
	}

	if form.TableName == "" {
		return "", NoTableError{FormID: form.ID}
	}
	return form.TableName, nil
}

// FieldByID returns the field with the given id, if present.
func FieldByID(fields []Field, id string) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}
