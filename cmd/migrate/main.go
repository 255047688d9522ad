package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/example/taskauth/internal/config"
	applog "github.com/example/taskauth/internal/logger"
	"github.com/example/taskauth/internal/store"
	"github.com/golang-migrate/migrate/v4"
)

func main() {
	var (
		command = flag.String("command", "up", "Migration command: up, down, version, force")
		steps   = flag.Int("steps", 0, "Number of migration steps (for up/down)")
		version = flag.Uint("version", 0, "Target version (for force command)")
	)
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := applog.New("taskauth-migrate", cfg.LogLevel)

	dsn := cfg.PostgresDSN
	switch cfg.DBAdapter {
	case "postgres":
	case "sqlite":
		dsn = cfg.SQLiteFile
	default:
		logger.Error("migrations need a database adapter", "adapter", cfg.DBAdapter)
		os.Exit(1)
	}

	m, err := store.NewMigrator(cfg.DBAdapter, dsn)
	if err != nil {
		logger.Error("opening migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	switch *command {
	case "up":
		err = runMigration(m, true, *steps)
	case "down":
		err = runMigration(m, false, *steps)
	case "version":
		v, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info("no migrations applied")
			return
		}
		if verr != nil {
			err = verr
			break
		}
		if dirty {
			logger.Warn("database is in a dirty state", "version", v)
			m.Close()
			os.Exit(1)
		}
		logger.Info("current migration version", "version", v)
		return
	case "force":
		if *version == 0 {
			logger.Error("version required for force command (use -version flag)")
			m.Close()
			os.Exit(1)
		}
		err = m.Force(int(*version))
	default:
		logger.Error("unknown command (supported: up, down, version, force)", "command", *command)
		m.Close()
		os.Exit(1)
	}

	if err != nil {
		logger.Error("migration failed", "command", *command, "error", err)
		m.Close()
		os.Exit(1)
	}
	v, _, _ := m.Version()
	logger.Info("migration complete", "command", *command, "adapter", cfg.DBAdapter, "version", v)
}

func runMigration(m *migrate.Migrate, up bool, steps int) error {
	var err error
	switch {
	case steps > 0 && up:
		err = m.Steps(steps)
	case steps > 0:
		err = m.Steps(-steps)
	case up:
		err = m.Up()
	default:
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
