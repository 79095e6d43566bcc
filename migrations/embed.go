// Package migrations embeds the schema for every supported database driver.
package migrations

import "embed"

// FS holds one directory per driver: postgres, mysql and sqlite3.
//
//go:embed postgres/*.sql mysql/*.sql sqlite3/*.sql
var FS embed.FS
