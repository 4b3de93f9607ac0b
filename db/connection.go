package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/sym"
)

// SQLiteBusyTimeoutMS is how long SQLite waits on a locked database before failing a write
const SQLiteBusyTimeoutMS = 5000

// Dialect identifies the SQL flavour behind a connection. Its value is the
// database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "pgx"
)

// ParseDialect maps a configured driver name to a Dialect
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", errors.NewInvalidRequestError("unsupported database driver %q", driver)
	}
}

// Rebind rewrites ? placeholders into the dialect's positional form.
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DB is a database handle that knows its dialect
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Rebind rewrites a query for this handle's dialect
func (d *DB) Rebind(query string) string {
	return d.Dialect.Rebind(query)
}

// Wrap attaches a dialect to an already opened *sql.DB (tests, sqlmock)
func Wrap(sqlDB *sql.DB, dialect Dialect) *DB {
	return &DB{DB: sqlDB, Dialect: dialect}
}

// Open opens the database for the given dialect. For SQLite dsn is a file
// path and the connection gets WAL, foreign keys and a busy timeout. For
// Postgres dsn is a connection URL and the connection is pinged.
// If logger is provided, logs database operations; otherwise operates silently.
func Open(dialect Dialect, dsn string, logger *zap.SugaredLogger) (*DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "dialect", dialect, "symbol", sym.DB)
	}

	sqlDB, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	switch dialect {
	case DialectSQLite:
		if err := configureSQLite(sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	case DialectPostgres:
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, errors.Mark(errors.Wrap(err, "failed to ping postgres"), errors.ErrStoreUnavailable)
		}
	default:
		sqlDB.Close()
		return nil, errors.NewInvalidRequestError("unsupported dialect %q", dialect)
	}

	if logger != nil {
		logger.Infow("Database opened successfully",
			"dialect", dialect,
			"symbol", sym.DB,
		)
	}

	return &DB{DB: sqlDB, Dialect: dialect}, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	// One connection: PRAGMAs are per-connection and SQLite serialises writers anyway.
	// Other processes sharing the file coordinate through file locks and the busy timeout.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	// Enable WAL mode for concurrent reads during writes
	if _, err := sqlDB.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return errors.Wrap(err, "failed to enable WAL mode")
	}

	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return errors.Wrap(err, "failed to enable foreign keys")
	}

	if _, err := sqlDB.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", SQLiteBusyTimeoutMS)); err != nil {
		return errors.Wrap(err, "failed to set busy timeout")
	}

	return nil
}

// OpenWithMigrations opens the database and applies all pending migrations
func OpenWithMigrations(dialect Dialect, dsn string, logger *zap.SugaredLogger) (*DB, error) {
	conn, err := Open(dialect, dsn, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if err := Migrate(conn, logger); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return conn, nil
}
