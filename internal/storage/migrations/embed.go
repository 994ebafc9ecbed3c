package migrations

import "embed"

// FS embeds the SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dir returns the migration directory for a database driver name.
func Dir(driver string) string {
	if driver == "sqlite3" {
		return "sqlite"
	}
	return "postgres"
}
