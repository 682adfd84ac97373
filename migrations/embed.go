// Package migrations holds the schema files. They are embedded for the
// startup migration step and referenced on disk by the test containers.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
