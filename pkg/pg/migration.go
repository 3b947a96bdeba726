package pg

import (
	"fmt"
	"path/filepath"

	_ "github.com/lib/pq"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/pressly/goose/v3"
)

// Migrate applies the goose migrations for the configured driver. Each
// driver keeps its own directory under dir, e.g. migrations/postgres.
func Migrate(cfg Config, dir string) error {
	dialect := cfg.driver()
	if dialect == DriverSQLite {
		dialect = "sqlite3"
	}
	goose.SetLogger(logger.GetLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("pg: set dialect: %w", err)
	}

	db, err := newSqlConnection(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	path := filepath.Join(dir, cfg.driver())
	logger.Info("pg: running migrations", "driver", cfg.driver(), "dir", path)
	if err = goose.Up(db, path); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}
