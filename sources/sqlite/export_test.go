package sqlite

import (
	"context"
	"database/sql"
)

// SetDBOpener replaces the database opener (exported for testing)
func SetDBOpener(opener func(driverName, dataSourceName string) (*sql.DB, error)) {
	dbOpener = opener
}

// ResetDBOpener restores sql.Open (exported for testing)
func ResetDBOpener() {
	dbOpener = sql.Open
}

// RunMigrate runs migration on a database (exported for testing)
func RunMigrate(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db)
}
