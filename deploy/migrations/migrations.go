// Package migrations embeds the SQL schema applied by the MySQL approval
// store on startup. Files run in lexical order.
package migrations

import "embed"

// Files exposes all SQL migration files.
//
//go:embed *.sql
var Files embed.FS
