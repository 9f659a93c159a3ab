package migrations

import "embed"

// FS contains embedded SQLite migrations for credential record storage.
//
//go:embed *.sql
var FS embed.FS
