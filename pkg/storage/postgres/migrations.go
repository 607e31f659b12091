package postgres

import "embed"

// Migrations holds the golang-migrate files for the users and settings
// tables, rooted at "migrations".
//
//go:embed migrations/*.sql
var Migrations embed.FS

const MigrationsDir = "migrations"
