package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// The runs schema ships inside the binary so a fresh deployment needs no
// migration files on disk. Note: the trigger column is named "triggered_by"
// because "trigger" is a reserved word in SQLite DDL.
//
//go:embed migrations/*.sql
var runsSchema embed.FS

// RunMigrations brings the run-history schema up to date. Called on every
// startup against the writer connection; migrations already applied are
// skipped, so an unchanged schema is a no-op.
func RunMigrations(db *sql.DB) error {
	src, err := iofs.New(runsSchema, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded runs schema: %w", err)
	}

	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("bind migrator to run db: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create run db migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate runs schema: %w", err)
	}
	return nil
}
