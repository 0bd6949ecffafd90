// SPDX-License-Identifier: Apache-2.0

package schema

// columnTypes is the fixed mapping from logical field types to the physical
// column types used in DDL. Altering an entry is a breaking change: existing
// dynamic tables were created against this table.
var columnTypes = map[FieldType]string{
	FieldTypeShortText: "varchar(255)",
	FieldTypeLongText:  "text",
	FieldTypeEmail:     "varchar(255)",
	FieldTypePhone:     "varchar(20)",
	FieldTypeNumber:    "numeric",
	FieldTypeURL:       "text",
	FieldTypeDate:      "date",
	FieldTypeTime:      "time",
	FieldTypeDateTime:  "timestamptz",
	FieldTypeBoolean:   "boolean",
	FieldTypeChoice:    "varchar(255)",
	FieldTypeRating:    "integer",
	FieldTypeSlider:    "integer",
	FieldTypeGeoPoint:  "point",
	FieldTypeFileRef:   "uuid",
}

// ColumnType returns the physical column type for a logical field type.
func ColumnType(logical FieldType) (string, error) {
	t, ok := columnTypes[logical]
	if !ok {
		return "", UnknownFieldTypeError{Type: logical}
	}
	return t, nil
}

// IsTextual reports whether the logical type is stored as a character type.
func IsTextual(t FieldType) bool {
	switch t {
	case FieldTypeShortText, FieldTypeLongText, FieldTypeEmail, FieldTypePhone,
		FieldTypeURL, FieldTypeChoice:
		return true
	}
	return false
}

// IsNumeric reports whether the logical type is stored as a numeric type.
func IsNumeric(t FieldType) bool {
	switch t {
	case FieldTypeNumber, FieldTypeRating, FieldTypeSlider:
		return true
	}
	return false
}

// IsTemporal reports whether the logical type is a date/time kind.
func IsTemporal(t FieldType) bool {
	switch t {
	case FieldTypeDate, FieldTypeTime, FieldTypeDateTime:
		return true
	}
	return false
}
