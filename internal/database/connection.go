package database

import "fmt"

// Driver-specific identifiers used for error classification and placeholder
// formatting. Only DriverPostgres has a caller wired in this module (both
// internal/pgcaller and the datastore's postgres backend pool pgx/v5
// natively); the others remain named constants for ClassifyDatabaseError's
// driver-specific error code tables.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// FormatPlaceholder formats a positional query parameter placeholder for
// driver at the given 1-based index.
func FormatPlaceholder(driver string, index int) string {
	switch driver {
	case DriverPostgres:
		return fmt.Sprintf("$%d", index)
	default:
		return "?"
	}
}
