// Package migrations embeds the Postgres schema migrations.
package migrations

import "embed"

// FS holds the *.up.sql and *.down.sql files applied by repository.Migrate.
//
//go:embed *.sql
var FS embed.FS
