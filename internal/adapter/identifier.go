package adapter

import (
	"strings"
	"unicode"
)

// reservedIdentifiers are SQL keywords that cannot be used verbatim as column
// names. Columns hitting this list get a "_col" suffix.
var reservedIdentifiers = map[string]bool{
	"all": true, "and": true, "any": true, "array": true, "as": true,
	"asc": true, "between": true, "case": true, "cast": true, "check": true,
	"column": true, "constraint": true, "create": true, "cross": true,
	"current_date": true, "current_time": true, "current_timestamp": true,
	"default": true, "desc": true, "distinct": true, "do": true, "else": true,
	"end": true, "except": true, "false": true, "for": true, "foreign": true,
	"from": true, "full": true, "group": true, "having": true, "in": true,
	"index": true, "inner": true, "intersect": true, "into": true, "is": true,
	"join": true, "left": true, "like": true, "limit": true, "not": true,
	"null": true, "offset": true, "on": true, "or": true, "order": true,
	"outer": true, "primary": true, "references": true, "right": true,
	"select": true, "table": true, "then": true, "to": true, "true": true,
	"union": true, "unique": true, "user": true, "using": true, "values": true,
	"when": true, "where": true, "with": true,
}

// NormalizeIdentifier converts an arbitrary upstream field name into a valid
// SQL identifier. Centralized here so every adapter and the provisioner agree
// on the exact mapping:
//
//   - lowercased
//   - non-alphanumeric runs collapse to a single underscore
//   - a leading digit gets a "c_" prefix
//   - reserved SQL keywords get a "_col" suffix
//
// Deterministic: identical input always yields identical output, which is what
// makes adapter schema declarations reproducible.
func NormalizeIdentifier(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))

	var b strings.Builder

	b.Grow(len(lower))

	lastUnderscore := false

	for _, r := range lower {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) && r < 128 {
			b.WriteRune(r)

			lastUnderscore = false

			continue
		}

		if !lastUnderscore {
			b.WriteByte('_')

			lastUnderscore = true
		}
	}

	normalized := strings.Trim(b.String(), "_")
	if normalized == "" {
		return "unnamed"
	}

	if normalized[0] >= '0' && normalized[0] <= '9' {
		normalized = "c_" + normalized
	}

	if reservedIdentifiers[normalized] {
		normalized += "_col"
	}

	return normalized
}

// NormalizeIdentifiers maps NormalizeIdentifier over a list of names.
func NormalizeIdentifiers(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = NormalizeIdentifier(n)
	}

	return out
}
