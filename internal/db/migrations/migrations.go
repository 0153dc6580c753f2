// Package migrations embeds the schema migrations for each supported driver.
package migrations

import "embed"

// Postgres holds the migrations applied to PostgreSQL and CockroachDB.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite holds the migrations applied to the embedded SQLite database.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
