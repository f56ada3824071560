package store

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate brings the schema up to the latest version via goose, using the
// embedded migration set so the binary carries its own schema history with
// no separate migrations directory to deploy (cmd/tagwatch's "migrate"
// subcommand calls this directly).
func Migrate(db *sql.DB, migrationsTable string) error {
	if migrationsTable != "" {
		goose.SetTableName(migrationsTable)
	}
	goose.SetBaseFS(migrationFiles)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}
