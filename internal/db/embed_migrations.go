package db

import "embed"

// MigrationFS holds the Postgres event store schema.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
