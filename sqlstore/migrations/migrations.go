// Package migrations embeds the schema of the SQL client registry.
package migrations

import "embed"

// SQLite holds the migrations under the "sqlite" directory.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// MySQL holds the migrations under the "mysql" directory.
//
//go:embed mysql/*.sql
var MySQL embed.FS
