// Package db provides the embedded schema of the gateway's own tables.
package db

import _ "embed"

// Schema contains the DDL statements for the cart snapshot table.
//
//go:embed migrations/001_schema.sql
var Schema string
