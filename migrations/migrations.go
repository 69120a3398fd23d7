// Package migrations embeds the schema so it can be applied from any working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
