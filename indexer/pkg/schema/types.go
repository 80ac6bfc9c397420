package schema

import (
	"regexp"
	"strings"
)

type typeKind int

const (
	kindOther typeKind = iota
	kindTemporal
	kindString
	kindEnum
	kindBool
	kindNumeric
	kindIdentifier
)

var (
	intTypeRe     = regexp.MustCompile(`^u?int(8|16|32|64|128|256)?$`)
	floatTypeRe   = regexp.MustCompile(`^float(32|64)?$`)
	decimalTypeRe = regexp.MustCompile(`^decimal(32|64|128|256)?$`)
)

var wrapperPrefixes = []string{"nullable(", "lowcardinality("}

// BaseType strips Nullable(...) and LowCardinality(...) wrappers, in any
// nesting order, and returns the inner declared type.
func BaseType(declared string) string {
	t := strings.TrimSpace(declared)
	for {
		lower := strings.ToLower(t)
		unwrapped := false
		for _, prefix := range wrapperPrefixes {
			if strings.HasPrefix(lower, prefix) && strings.HasSuffix(t, ")") {
				t = strings.TrimSpace(t[len(prefix) : len(t)-1])
				unwrapped = true
				break
			}
		}
		if !unwrapped {
			return t
		}
	}
}

// IsNullableType reports whether the declared type carries a Nullable wrapper.
func IsNullableType(declared string) bool {
	t := strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(t, "lowcardinality(") {
		t = strings.TrimPrefix(t, "lowcardinality(")
	}
	return strings.HasPrefix(t, "nullable(")
}

// typeName returns the lower-cased type name without parameters, so
// DateTime64(3, 'UTC') becomes datetime64.
func typeName(base string) string {
	name := strings.ToLower(base)
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

func kindOf(declared string) (typeKind, int) {
	base := BaseType(declared)
	name := typeName(base)

	switch name {
	case "date", "date32", "datetime", "datetime32", "datetime64",
		"timestamp", "timestamptz", "timestamp with time zone", "timestamp without time zone", "smalldatetime":
		return kindTemporal, 0
	case "string", "fixedstring", "varchar", "char", "character", "character varying", "nvarchar", "nchar", "text", "tinytext", "mediumtext", "longtext":
		return kindString, 0
	case "enum", "enum8", "enum16":
		return kindEnum, countEnumMembers(base)
	case "bool", "boolean":
		return kindBool, 2
	case "uuid", "ipv4", "ipv6":
		return kindIdentifier, 0
	case "integer", "bigint", "smallint", "tinyint", "mediumint", "double", "double precision", "real", "numeric", "number", "float":
		return kindNumeric, 0
	}

	if intTypeRe.MatchString(name) || floatTypeRe.MatchString(name) || decimalTypeRe.MatchString(name) {
		return kindNumeric, 0
	}
	return kindOther, 0
}

// countEnumMembers counts the quoted literals in an enum declaration such as
// Enum8('a' = 1, 'b''c' = 2).
func countEnumMembers(decl string) int {
	count := 0
	inQuote := false
	for i := 0; i < len(decl); i++ {
		ch := decl[i]
		switch {
		case !inQuote && ch == '\'':
			inQuote = true
			count++
		case inQuote && ch == '\\':
			i++
		case inQuote && ch == '\'':
			if i+1 < len(decl) && decl[i+1] == '\'' {
				i++
				continue
			}
			inQuote = false
		}
	}
	return count
}

// IsTemporalType reports whether the declared type is a date or date/time type.
func IsTemporalType(declared string) bool {
	k, _ := kindOf(declared)
	return k == kindTemporal
}

// IsNumericType reports whether the declared type is an integer, float or decimal type.
func IsNumericType(declared string) bool {
	k, _ := kindOf(declared)
	return k == kindNumeric
}

// IsStringLikeType reports whether the declared type holds free-form text
// whose cardinality has to be measured.
func IsStringLikeType(declared string) bool {
	k, _ := kindOf(declared)
	return k == kindString
}
