// Package migrations embeds the server's PostgreSQL schema migrations.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
