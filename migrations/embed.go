// Package migrations embeds the SQL migration files so the runner works
// regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem, containing every .sql file in
// this directory (e.g. 001_init.sql).
//
//go:embed *.sql
var FS embed.FS
