package database

import (
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all database migrations for the dialect
func GetMigrations(dialect string) []Migration {
	if dialect == Postgres {
		return getPostgresMigrations()
	}
	return getSQLiteMigrations()
}

func getPostgresMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				external_id TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				image_url TEXT NOT NULL DEFAULT '',
				is_admin BOOLEAN NOT NULL DEFAULT FALSE,
				is_pro BOOLEAN NOT NULL DEFAULT FALSE,
				subscription_status TEXT NOT NULL DEFAULT 'none',
				subscription_id TEXT,
				subscription_end_date TIMESTAMP WITH TIME ZONE,
				stripe_customer_id TEXT,
				last_login TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_users_stripe_customer_id ON users(stripe_customer_id);
			CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,
		},
		{
			Version:     2,
			Description: "Create creations table",
			SQL: `CREATE TABLE IF NOT EXISTS creations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				tool_type TEXT NOT NULL,
				title TEXT NOT NULL,
				input TEXT NOT NULL,
				output TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_creations_user_created ON creations(user_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_creations_created_at ON creations(created_at);
			CREATE INDEX IF NOT EXISTS idx_creations_tool_type ON creations(tool_type)`,
		},
		{
			Version:     3,
			Description: "Create payments table",
			SQL: `CREATE TABLE IF NOT EXISTS payments (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				external_customer_id TEXT,
				external_ref TEXT UNIQUE,
				external_subscription_id TEXT,
				amount BIGINT NOT NULL,
				currency TEXT NOT NULL DEFAULT 'usd',
				status TEXT NOT NULL,
				plan_type TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments(user_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		},
		{
			Version:     4,
			Description: "Create billing events table",
			SQL: `CREATE TABLE IF NOT EXISTS billing_events (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				outcome TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				received_at TIMESTAMP WITH TIME ZONE NOT NULL
			)`,
		},
	}
}

func getSQLiteMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				external_id TEXT NOT NULL UNIQUE,
				email TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				image_url TEXT NOT NULL DEFAULT '',
				is_admin BOOLEAN NOT NULL DEFAULT 0,
				is_pro BOOLEAN NOT NULL DEFAULT 0,
				subscription_status TEXT NOT NULL DEFAULT 'none',
				subscription_id TEXT,
				subscription_end_date DATETIME,
				stripe_customer_id TEXT,
				last_login DATETIME NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_users_stripe_customer_id ON users(stripe_customer_id);
			CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,
		},
		{
			Version:     2,
			Description: "Create creations table",
			SQL: `CREATE TABLE IF NOT EXISTS creations (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				tool_type TEXT NOT NULL,
				title TEXT NOT NULL,
				input TEXT NOT NULL,
				output TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_creations_user_created ON creations(user_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_creations_created_at ON creations(created_at);
			CREATE INDEX IF NOT EXISTS idx_creations_tool_type ON creations(tool_type)`,
		},
		{
			Version:     3,
			Description: "Create payments table",
			SQL: `CREATE TABLE IF NOT EXISTS payments (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				external_customer_id TEXT,
				external_ref TEXT UNIQUE,
				external_subscription_id TEXT,
				amount INTEGER NOT NULL,
				currency TEXT NOT NULL DEFAULT 'usd',
				status TEXT NOT NULL,
				plan_type TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_payments_user_created ON payments(user_id, created_at);
			CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
		},
		{
			Version:     4,
			Description: "Create billing events table",
			SQL: `CREATE TABLE IF NOT EXISTS billing_events (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				outcome TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				received_at DATETIME NOT NULL
			)`,
		},
	}
}

// createMigrationsTable creates the migrations tracking table
func createMigrationsTable(db *sql.DB, dialect string) error {
	var query string
	if dialect == Postgres {
		query = `CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`
	} else {
		query = `CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	}

	_, err := db.Exec(query)
	return err
}

// getAppliedMigrations returns the set of applied migration versions
func getAppliedMigrations(db *sql.DB) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return applied, err
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return applied, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applyMigration runs one migration's statements and records it in a
// single transaction.
func applyMigration(db *sql.DB, dialect string, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(Rebind(dialect, "INSERT INTO schema_migrations (version) VALUES (?)"), m.Version); err != nil {
		return err
	}
	return tx.Commit()
}

// RunMigrations runs all pending migrations
func RunMigrations(db *sql.DB, dialect string, logger *zap.Logger) error {
	if err := createMigrationsTable(db, dialect); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := getAppliedMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range GetMigrations(dialect) {
		if applied[m.Version] {
			continue
		}
		logger.Info("Applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))
		if err := applyMigration(db, dialect, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
	}
	return nil
}
