// Package migrations embeds the goose SQL migration files.
package migrations

import "embed"

// FS holds the embedded migration files, applied by goose at startup.
//
//go:embed *.sql
var FS embed.FS
