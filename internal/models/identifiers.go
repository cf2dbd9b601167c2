package models

import "regexp"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidTableName reports whether name is a plain or schema-qualified SQL
// identifier. Table names are interpolated into queries, so anything else is
// rejected before it reaches a driver.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}
