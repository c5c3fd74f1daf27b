// Package db holds the marketplace schema as embedded SQL migrations.
package db

import "embed"

// MigrationFS embeds the SQL migrations applied by cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
