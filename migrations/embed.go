// Package migrations embeds the SQL schema for the credential and audit stores.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
