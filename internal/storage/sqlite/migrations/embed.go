package migrations

import "embed"

// FS contains embedded SQLite migrations for roundtable storage.
//
//go:embed *.sql
var FS embed.FS
