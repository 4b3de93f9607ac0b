package commands

import (
	"github.com/teranos/keywatch/am"
	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/logger"
)

// loadConfig loads the keywatch configuration (already pinned by --config
// when the flag was given)
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// openDatabase opens and migrates the configured database
func openDatabase(cfg *am.Config) (*db.DB, error) {
	dialect, err := db.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	conn, err := db.OpenWithMigrations(dialect, cfg.DSN(), logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", dialect)
	}
	return conn, nil
}

// describeDatabase returns a display string for the configured database
// without leaking credentials
func describeDatabase(cfg *am.Config) string {
	if dialect, err := db.ParseDialect(cfg.Database.Driver); err == nil && dialect == db.DialectPostgres {
		return "postgres (database.url)"
	}
	return cfg.DSN()
}
