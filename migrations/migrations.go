// Package migrations embeds the schema so binaries migrate without a file
// path on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
