// Package migrations embeds the database schema.
package migrations

import "embed"

// FS holds the ordered schema files.
//
//go:embed *.sql
var FS embed.FS
