// Package migrations embeds the schema migration files.
package migrations

import "embed"

// FS holds the numbered .sql migration files, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
