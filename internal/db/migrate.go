// Package db applies the embedded schema migrations through goose, running
// on pgx's database/sql adapter.
package db

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Open opens a database/sql handle for migrations.
func Open(databaseURL string) (*sql.DB, error) {
	return sql.Open("pgx", databaseURL)
}

// RunMigrations applies the embedded SQL migrations.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	goose.SetBaseFS(migrationFiles)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, database, "migrations")
}
