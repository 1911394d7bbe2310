package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const migrationsTable = "leadforge_schema_migrations"

var ErrDirtySchema = errors.New("schema_dirty")

// Result reports where the schema stood before and after RunMigrations.
type Result struct {
	From    uint
	To      uint
	Applied bool
}

// RunMigrations brings the postgres schema up to the newest embedded
// version. The migrator is never closed because it shares db with gorm.
func RunMigrations(db *sql.DB) (Result, error) {
	if db == nil {
		return Result{}, errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return Result{}, err
	}

	from, dirty, err := schemaVersion(migrator)
	if err != nil {
		return Result{}, err
	}
	if dirty {
		return Result{From: from}, fmt.Errorf("%w: version %d needs manual repair", ErrDirtySchema, from)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return Result{From: from, To: from}, nil
		}
		return Result{From: from}, fmt.Errorf("apply migrations: %w", err)
	}

	to, _, err := schemaVersion(migrator)
	if err != nil {
		return Result{From: from}, err
	}
	return Result{From: from, To: to, Applied: true}, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	scripts, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(scripts, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, "postgres", driver)
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}
