// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/qcollector/fieldmigrate/pkg/schema"
)

// maxReportedViolations caps how many offending rows a data check reports.
const maxReportedViolations = 5

type conversionOutcome int

const (
	conversionAllowed conversionOutcome = iota
	conversionNeedsDataCheck
	conversionRejected
)

type dataCheckKind int

const (
	checkNone dataCheckKind = iota
	checkNumeric
	checkInteger
	checkBoolean
	checkDate
	checkTime
	checkDateTime
	checkUUID
	checkPoint
	checkMaxLength
)

// textualLimits is the character limit of each textual logical type; zero
// means unbounded.
var textualLimits = map[schema.FieldType]int{
	schema.FieldTypeShortText: 255,
	schema.FieldTypeEmail:     255,
	schema.FieldTypeChoice:    255,
	schema.FieldTypePhone:     20,
	schema.FieldTypeLongText:  0,
	schema.FieldTypeURL:       0,
}

// classifyConversion applies the static conversion policy. When the result is
// conversionNeedsDataCheck, every existing non-null value must pass the
// returned check before the conversion may run.
func classifyConversion(from, to schema.FieldType) (conversionOutcome, dataCheckKind, int) {
	if from == to {
		return conversionAllowed, checkNone, 0
	}

	// geo_point and file_ref convert to and from text only.
	if from == schema.FieldTypeGeoPoint || from == schema.FieldTypeFileRef {
		if schema.IsTextual(to) {
			return textualTarget(schema.FieldTypeLongText, to)
		}
		return conversionRejected, checkNone, 0
	}
	if to == schema.FieldTypeGeoPoint {
		if schema.IsTextual(from) {
			return conversionNeedsDataCheck, checkPoint, 0
		}
		return conversionRejected, checkNone, 0
	}
	if to == schema.FieldTypeFileRef {
		if schema.IsTextual(from) {
			return conversionNeedsDataCheck, checkUUID, 0
		}
		return conversionRejected, checkNone, 0
	}

	if schema.IsTextual(to) {
		if schema.IsTextual(from) {
			return textualTarget(from, to)
		}
		// number/date/time/datetime/boolean to text: always allowed.
		return conversionAllowed, checkNone, 0
	}

	if schema.IsTextual(from) {
		switch {
		case to == schema.FieldTypeNumber:
			return conversionNeedsDataCheck, checkNumeric, 0
		case to == schema.FieldTypeRating || to == schema.FieldTypeSlider:
			return conversionNeedsDataCheck, checkInteger, 0
		case to == schema.FieldTypeBoolean:
			return conversionNeedsDataCheck, checkBoolean, 0
		case to == schema.FieldTypeDate:
			return conversionNeedsDataCheck, checkDate, 0
		case to == schema.FieldTypeTime:
			return conversionNeedsDataCheck, checkTime, 0
		case to == schema.FieldTypeDateTime:
			return conversionNeedsDataCheck, checkDateTime, 0
		}
		return conversionRejected, checkNone, 0
	}

	if schema.IsNumeric(from) && schema.IsNumeric(to) {
		// integer-backed types widen freely into numeric; numeric narrows to
		// integer only when every value is representable without loss.
		if to == schema.FieldTypeNumber {
			return conversionAllowed, checkNone, 0
		}
		if from == schema.FieldTypeNumber {
			return conversionNeedsDataCheck, checkInteger, 0
		}
		// rating <-> slider share the physical type.
		return conversionAllowed, checkNone, 0
	}

	if schema.IsTemporal(from) && schema.IsTemporal(to) {
		// date to datetime is a widening; everything else loses information.
		if from == schema.FieldTypeDate && to == schema.FieldTypeDateTime {
			return conversionAllowed, checkNone, 0
		}
		return conversionRejected, checkNone, 0
	}

	return conversionRejected, checkNone, 0
}

func textualTarget(from, to schema.FieldType) (conversionOutcome, dataCheckKind, int) {
	fromLimit := textualLimits[from]
	toLimit := textualLimits[to]
	if toLimit == 0 || (fromLimit != 0 && fromLimit <= toLimit) {
		return conversionAllowed, checkNone, 0
	}
	return conversionNeedsDataCheck, checkMaxLength, toLimit
}

// checkColumnData scans every non-null value of the column and returns a
// warning per violating row, capped at maxReportedViolations. The scan runs in
// the caller's transaction or connection, so execution-time checks see the
// same snapshot as the DDL that follows.
func checkColumnData(ctx context.Context, q schema.Querier, table, column string, kind dataCheckKind, limit int) ([]string, error) {
	pkColumn, err := schema.PrimaryKeyColumn(ctx, q, table)
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s::text, %s::text FROM %s WHERE %s IS NOT NULL",
		pq.QuoteIdentifier(pkColumn),
		pq.QuoteIdentifier(column),
		pq.QuoteIdentifier(table),
		pq.QuoteIdentifier(column)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []string
	for rows.Next() {
		var pk, value string
		if err := rows.Scan(&pk, &value); err != nil {
			return nil, err
		}

		if reason, ok := checkValue(value, kind, limit); !ok {
			if len(violations) < maxReportedViolations {
				violations = append(violations, fmt.Sprintf("%s value at %s", reason, pk))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return violations, nil
}

var numericGrammar = regexp.MustCompile(`^[+-]?(\d+(\.\d+)?|\.\d+)([eE][+-]?\d+)?$`)

var pointGrammar = regexp.MustCompile(`^\(?\s*[+-]?\d+(\.\d+)?\s*,\s*[+-]?\d+(\.\d+)?\s*\)?$`)

var booleanLiterals = map[string]struct{}{
	"true": {}, "false": {}, "1": {}, "0": {}, "yes": {}, "no": {},
}

var timeLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04"}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
}

func checkValue(value string, kind dataCheckKind, limit int) (string, bool) {
	switch kind {
	case checkNumeric:
		if !numericGrammar.MatchString(value) {
			return "non-numeric", false
		}
	case checkInteger:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return "non-integer", false
		}
	case checkBoolean:
		if _, ok := booleanLiterals[strings.ToLower(value)]; !ok {
			return "non-boolean", false
		}
	case checkDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return "non-date", false
		}
	case checkTime:
		if !parsesAny(value, timeLayouts) {
			return "non-time", false
		}
	case checkDateTime:
		if !parsesAny(value, dateTimeLayouts) {
			return "non-datetime", false
		}
	case checkUUID:
		if _, err := uuid.Parse(value); err != nil {
			return "non-uuid", false
		}
	case checkPoint:
		if !pointGrammar.MatchString(value) {
			return "non-point", false
		}
	case checkMaxLength:
		if len([]rune(value)) > limit {
			return "over-length", false
		}
	}
	return "", true
}

func parsesAny(value string, layouts []string) bool {
	for _, l := range layouts {
		if _, err := time.Parse(l, value); err == nil {
			return true
		}
	}
	return false
}

// ValidatePlan resolves every change in order, executing each change's DDL as
// it goes so later changes in the plan see the effects of earlier ones. The
// caller supplies a transaction and rolls it back afterwards; nothing commits
// here. RESTORE changes are skipped, the backup is looked up when the job
// runs. The first failing change aborts with its typed error.
func ValidatePlan(ctx context.Context, q schema.Querier, plan Plan) error {
	for i := range plan {
		change := &plan[i]
		if change.Type == ChangeRestore {
			continue
		}

		rv, err := change.resolver()
		if err != nil {
			return err
		}
		r, err := rv.resolve(ctx, q)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, r.ddl); err != nil {
			return fmt.Errorf("change %d failed validation: %w", i+1, err)
		}
	}
	return nil
}

// ValidateConversion applies the static policy and, when required, the data
// check against existing values. It returns the warnings produced by a failed
// data check together with a ConversionDataLossError; a statically impossible
// conversion returns UnsupportedConversionError.
func ValidateConversion(ctx context.Context, q schema.Querier, table, column string, from, to schema.FieldType) ([]string, error) {
	outcome, kind, limit := classifyConversion(from, to)
	switch outcome {
	case conversionRejected:
		return nil, UnsupportedConversionError{From: from, To: to}
	case conversionAllowed:
		return nil, nil
	}

	violations, err := checkColumnData(ctx, q, table, column, kind, limit)
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		return violations, ConversionDataLossError{
			Table:      table,
			Column:     column,
			To:         to,
			Violations: violations,
		}
	}
	return nil, nil
}
