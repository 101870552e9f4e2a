// Package db provides the embedded database migrations and demo data.
package db

import "embed"

// Migrations holds the golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Catalog is the demo catalog loaded by cmd/seed-db.
//
//go:embed seed/catalog.json
var Catalog []byte
