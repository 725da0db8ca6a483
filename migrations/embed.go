// Package migrations embeds the registry schema so a single binary can
// migrate any database it is pointed at.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
