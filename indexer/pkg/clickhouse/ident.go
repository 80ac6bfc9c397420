package clickhouse

import (
	"fmt"
	"regexp"
	"strings"
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// QuoteIdentifier wraps a column or table name in backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteTable quotes a table reference of the form "table" or "db.table".
func QuoteTable(table string) string {
	db, name, ok := strings.Cut(table, ".")
	if !ok {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(db) + "." + QuoteIdentifier(name)
}

// SplitTable returns the database and table parts; the database is empty when
// the reference is unqualified.
func SplitTable(table string) (database, name string) {
	if db, n, ok := strings.Cut(table, "."); ok {
		return db, n
	}
	return "", table
}

// ValidateTableName rejects anything that is not a plain or db-qualified
// identifier. User-supplied table names are interpolated into SQL.
func ValidateTableName(table string) error {
	if !tableNameRE.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}
