// Package migrations embeds the SQL schema that cmd/api applies at startup
// (runAutoMigrate).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
