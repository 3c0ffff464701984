package migrations

import "embed"

// Files holds the MySQL schema migrations applied by `escrowd migrate`.
//
//go:embed *.sql
var Files embed.FS
