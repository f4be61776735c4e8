package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/config"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Open connects to the configured database, pings it and applies pending
// migrations.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch cfg.Type {
	case Postgres:
		db, err = openPostgreSQL(cfg, logger)
	case SQLite, "":
		db, err = openSQLite(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := RunMigrations(db, Dialect(cfg.Type), logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Database ready", zap.String("type", Dialect(cfg.Type)))
	return db, nil
}

// Dialect normalizes the configured type; empty means sqlite.
func Dialect(dbType string) string {
	if dbType == Postgres {
		return Postgres
	}
	return SQLite
}

func openPostgreSQL(cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	logger.Info("Opening postgres connection")

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

func openSQLite(cfg config.DatabaseConfig, logger *zap.Logger) (*sql.DB, error) {
	logger.Info("Opening sqlite database", zap.String("path", cfg.Path))

	if err := createDataDir(filepath.Dir(cfg.Path), logger); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Immediate transactions take the write lock up front so two concurrent
	// writers queue on the busy timeout instead of failing on lock upgrade.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows one writer; a single connection keeps writes ordered.
	db.SetMaxOpenConns(1)
	return db, nil
}

// createDataDir ensures the data directory exists.
func createDataDir(dir string, logger *zap.Logger) error {
	if stat, err := os.Stat(dir); err == nil {
		if !stat.IsDir() {
			return fmt.Errorf("path %s exists but is not a directory", dir)
		}
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}

	logger.Info("Creating data directory", zap.String("dir", dir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Rebind rewrites ? placeholders to $n for postgres. Queries never contain
// a literal question mark.
func Rebind(dialect, query string) string {
	if dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// IsUniqueViolation reports whether err is a unique or primary key
// constraint failure from either driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
