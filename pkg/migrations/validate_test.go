// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qcollector/fieldmigrate/pkg/schema"
)

func TestClassifyConversion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    schema.FieldType
		to      schema.FieldType
		outcome conversionOutcome
		kind    dataCheckKind
	}{
		{name: "identity", from: schema.FieldTypeNumber, to: schema.FieldTypeNumber, outcome: conversionAllowed},

		{name: "anything to long_text", from: schema.FieldTypeNumber, to: schema.FieldTypeLongText, outcome: conversionAllowed},
		{name: "boolean to long_text", from: schema.FieldTypeBoolean, to: schema.FieldTypeLongText, outcome: conversionAllowed},
		{name: "datetime to short_text", from: schema.FieldTypeDateTime, to: schema.FieldTypeShortText, outcome: conversionAllowed},

		{name: "textual widening", from: schema.FieldTypeShortText, to: schema.FieldTypeLongText, outcome: conversionAllowed},
		{name: "textual same limit", from: schema.FieldTypeEmail, to: schema.FieldTypeChoice, outcome: conversionAllowed},
		{name: "textual narrowing", from: schema.FieldTypeLongText, to: schema.FieldTypeShortText, outcome: conversionNeedsDataCheck, kind: checkMaxLength},
		{name: "short_text to phone narrows", from: schema.FieldTypeShortText, to: schema.FieldTypePhone, outcome: conversionNeedsDataCheck, kind: checkMaxLength},

		{name: "text to number", from: schema.FieldTypeShortText, to: schema.FieldTypeNumber, outcome: conversionNeedsDataCheck, kind: checkNumeric},
		{name: "text to rating", from: schema.FieldTypeShortText, to: schema.FieldTypeRating, outcome: conversionNeedsDataCheck, kind: checkInteger},
		{name: "text to boolean", from: schema.FieldTypeLongText, to: schema.FieldTypeBoolean, outcome: conversionNeedsDataCheck, kind: checkBoolean},
		{name: "text to date", from: schema.FieldTypeShortText, to: schema.FieldTypeDate, outcome: conversionNeedsDataCheck, kind: checkDate},
		{name: "text to time", from: schema.FieldTypeShortText, to: schema.FieldTypeTime, outcome: conversionNeedsDataCheck, kind: checkTime},
		{name: "text to datetime", from: schema.FieldTypeShortText, to: schema.FieldTypeDateTime, outcome: conversionNeedsDataCheck, kind: checkDateTime},

		{name: "rating to number widens", from: schema.FieldTypeRating, to: schema.FieldTypeNumber, outcome: conversionAllowed},
		{name: "number to slider narrows", from: schema.FieldTypeNumber, to: schema.FieldTypeSlider, outcome: conversionNeedsDataCheck, kind: checkInteger},
		{name: "rating to slider", from: schema.FieldTypeRating, to: schema.FieldTypeSlider, outcome: conversionAllowed},

		{name: "date to datetime widens", from: schema.FieldTypeDate, to: schema.FieldTypeDateTime, outcome: conversionAllowed},
		{name: "datetime to date rejected", from: schema.FieldTypeDateTime, to: schema.FieldTypeDate, outcome: conversionRejected},
		{name: "time to date rejected", from: schema.FieldTypeTime, to: schema.FieldTypeDate, outcome: conversionRejected},

		{name: "text to geo_point", from: schema.FieldTypeShortText, to: schema.FieldTypeGeoPoint, outcome: conversionNeedsDataCheck, kind: checkPoint},
		{name: "text to file_ref", from: schema.FieldTypeShortText, to: schema.FieldTypeFileRef, outcome: conversionNeedsDataCheck, kind: checkUUID},
		{name: "geo_point to text", from: schema.FieldTypeGeoPoint, to: schema.FieldTypeLongText, outcome: conversionAllowed},
		{name: "geo_point to number rejected", from: schema.FieldTypeGeoPoint, to: schema.FieldTypeNumber, outcome: conversionRejected},
		{name: "number to geo_point rejected", from: schema.FieldTypeNumber, to: schema.FieldTypeGeoPoint, outcome: conversionRejected},
		{name: "file_ref to boolean rejected", from: schema.FieldTypeFileRef, to: schema.FieldTypeBoolean, outcome: conversionRejected},

		{name: "boolean to number rejected", from: schema.FieldTypeBoolean, to: schema.FieldTypeNumber, outcome: conversionRejected},
		{name: "number to date rejected", from: schema.FieldTypeNumber, to: schema.FieldTypeDate, outcome: conversionRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, kind, _ := classifyConversion(tt.from, tt.to)
			assert.Equal(t, tt.outcome, outcome)
			if tt.outcome == conversionNeedsDataCheck {
				assert.Equal(t, tt.kind, kind)
			}
		})
	}
}

func TestCheckValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		kind  dataCheckKind
		limit int
		ok    bool
	}{
		{name: "numeric plain", value: "42", kind: checkNumeric, ok: true},
		{name: "numeric decimal", value: "-3.14", kind: checkNumeric, ok: true},
		{name: "numeric scientific", value: "1.5e10", kind: checkNumeric, ok: true},
		{name: "numeric garbage", value: "abc", kind: checkNumeric, ok: false},
		{name: "numeric trailing unit", value: "30kg", kind: checkNumeric, ok: false},

		{name: "integer", value: "5", kind: checkInteger, ok: true},
		{name: "integer from float text", value: "5.0", kind: checkInteger, ok: true},
		{name: "non-integer", value: "5.5", kind: checkInteger, ok: false},

		{name: "boolean true", value: "true", kind: checkBoolean, ok: true},
		{name: "boolean yes", value: "YES", kind: checkBoolean, ok: true},
		{name: "boolean junk", value: "maybe", kind: checkBoolean, ok: false},

		{name: "date", value: "2025-06-30", kind: checkDate, ok: true},
		{name: "bad date", value: "30/06/2025", kind: checkDate, ok: false},
		{name: "time", value: "13:45:00", kind: checkTime, ok: true},
		{name: "bad time", value: "25:99", kind: checkTime, ok: false},
		{name: "datetime", value: "2025-06-30T13:45:00Z", kind: checkDateTime, ok: true},
		{name: "pg datetime", value: "2025-06-30 13:45:00+07", kind: checkDateTime, ok: true},

		{name: "uuid", value: "8cbb2cb3-0e0a-4bd0-a5ae-fb1559c2f60b", kind: checkUUID, ok: true},
		{name: "bad uuid", value: "not-a-uuid", kind: checkUUID, ok: false},
		{name: "point bare", value: "13.7563, 100.5018", kind: checkPoint, ok: true},
		{name: "point parenthesized", value: "(13.7563,100.5018)", kind: checkPoint, ok: true},
		{name: "bad point", value: "Bangkok", kind: checkPoint, ok: false},

		{name: "within limit", value: "abc", kind: checkMaxLength, limit: 3, ok: true},
		{name: "over limit", value: "abcd", kind: checkMaxLength, limit: 3, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := checkValue(tt.value, tt.kind, tt.limit)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
