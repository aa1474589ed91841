package store

import "embed"

// MigrationFS holds the goose-annotated SQL migrations for the
// derived evidence index (see Open).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
