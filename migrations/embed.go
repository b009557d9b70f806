// Package migrations carries the versioned schema for identity-engine.
package migrations

import "embed"

// Files holds every SQL migration, compiled into the binary so a deployment
// can never run against a schema directory it was not built with.
//
//go:embed *.sql
var Files embed.FS
