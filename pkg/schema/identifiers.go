// SPDX-License-Identifier: Apache-2.0

package schema

import "strings"

// maxIdentifierLength is the Postgres NAMEDATALEN-1 limit in bytes.
const maxIdentifierLength = 63

// reservedKeywords is the pinned list of Postgres 15 reserved keywords
// (pg_get_keywords() catcode 'R' and 'T'). Identifiers equal to any of these
// are rejected even though quoting would make them legal: dynamic table
// columns must stay usable from hand-written reporting SQL.
var reservedKeywords = map[string]struct{}{
	"all": {}, "analyse": {}, "analyze": {}, "and": {}, "any": {}, "array": {},
	"as": {}, "asc": {}, "asymmetric": {}, "authorization": {}, "binary": {},
	"both": {}, "case": {}, "cast": {}, "check": {}, "collate": {},
	"collation": {}, "column": {}, "concurrently": {}, "constraint": {},
	"create": {}, "cross": {}, "current_catalog": {}, "current_date": {},
	"current_role": {}, "current_schema": {}, "current_time": {},
	"current_timestamp": {}, "current_user": {}, "default": {},
	"deferrable": {}, "desc": {}, "distinct": {}, "do": {}, "else": {},
	"end": {}, "except": {}, "false": {}, "fetch": {}, "for": {},
	"foreign": {}, "freeze": {}, "from": {}, "full": {}, "grant": {},
	"group": {}, "having": {}, "ilike": {}, "in": {}, "initially": {},
	"inner": {}, "intersect": {}, "into": {}, "is": {}, "isnull": {},
	"join": {}, "lateral": {}, "leading": {}, "left": {}, "like": {},
	"limit": {}, "localtime": {}, "localtimestamp": {}, "natural": {},
	"not": {}, "notnull": {}, "null": {}, "offset": {}, "on": {}, "only": {},
	"or": {}, "order": {}, "outer": {}, "overlaps": {}, "placing": {},
	"primary": {}, "references": {}, "returning": {}, "right": {},
	"select": {}, "session_user": {}, "similar": {}, "some": {},
	"symmetric": {}, "system_user": {}, "table": {}, "tablesample": {},
	"then": {}, "to": {}, "trailing": {}, "true": {}, "union": {},
	"unique": {}, "user": {}, "using": {}, "variadic": {}, "verbose": {},
	"when": {}, "where": {}, "window": {}, "with": {},
}

// ValidateIdentifier checks a name against the identifier rules without
// normalizing it. Used for table names, which already exist in the database
// and must keep their case.
func ValidateIdentifier(name string) error {
	_, err := SanitizeIdentifier(name)
	return err
}

// SanitizeIdentifier validates and normalizes a proposed column name. The
// result is lower-cased. It fails if the name is empty, longer than 63 bytes,
// begins with a digit, contains characters outside [A-Za-z0-9_], or is a
// reserved keyword.
func SanitizeIdentifier(proposed string) (string, error) {
	if proposed == "" {
		return "", InvalidIdentifierError{Name: proposed, Reason: "empty"}
	}
	if len(proposed) > maxIdentifierLength {
		return "", InvalidIdentifierError{Name: proposed, Reason: "longer than 63 bytes"}
	}
	if proposed[0] >= '0' && proposed[0] <= '9' {
		return "", InvalidIdentifierError{Name: proposed, Reason: "begins with a digit"}
	}

	for i := 0; i < len(proposed); i++ {
		c := proposed[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_':
		default:
			return "", InvalidIdentifierError{Name: proposed, Reason: "contains characters outside [A-Za-z0-9_]"}
		}
	}

	name := strings.ToLower(proposed)
	if _, ok := reservedKeywords[name]; ok {
		return "", InvalidIdentifierError{Name: proposed, Reason: "reserved keyword"}
	}

	return name, nil
}
