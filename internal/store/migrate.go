package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// NewMigrator opens a dedicated connection for adapter ("sqlite" or
// "postgres") and returns a migrate instance over the embedded scripts.
// Closing the instance closes the connection.
func NewMigrator(adapter, dsn string) (*migrate.Migrate, error) {
	db, err := sql.Open(adapter, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	m, err := newMigrate(adapter, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

func newMigrate(adapter string, db *sql.DB) (*migrate.Migrate, error) {
	var (
		driver database.Driver
		err    error
	)
	switch adapter {
	case "postgres":
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	case "sqlite":
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("migrations not supported for adapter %q", adapter)
	}
	if err != nil {
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+adapter)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, adapter, driver)
	if err != nil {
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// ApplyMigrations brings the schema behind db up to date. The migrate
// instance is not closed because that would close db as well.
func ApplyMigrations(adapter string, db *sql.DB, logger *slog.Logger) error {
	m, err := newMigrate(adapter, db)
	if err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("checking migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state (version %d), manual intervention required", version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("database schema is up to date", "version", version)
			return nil
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("database migrated", "adapter", adapter, "from", version, "to", newVersion)
	return nil
}
