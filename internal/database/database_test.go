package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/config"
)

// DatabaseTestSuite runs against a fresh sqlite file per test
type DatabaseTestSuite struct {
	suite.Suite
	db *sql.DB
}

func (s *DatabaseTestSuite) SetupTest() {
	cfg := config.DatabaseConfig{
		Type: SQLite,
		Path: filepath.Join(s.T().TempDir(), "nested", "test.db"),
	}
	db, err := Open(cfg, zap.NewNop())
	s.Require().NoError(err, "Database initialization should succeed")
	s.db = db
}

func (s *DatabaseTestSuite) TearDownTest() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestDatabaseTestSuite(t *testing.T) {
	suite.Run(t, new(DatabaseTestSuite))
}

func (s *DatabaseTestSuite) TestMigrationsCreateTables() {
	for _, table := range []string{"users", "creations", "payments", "billing_events"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		s.NoError(err, table)
		s.Equal(table, name)
	}

	var count int
	s.Require().NoError(s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	s.Equal(len(GetMigrations(SQLite)), count)
}

func (s *DatabaseTestSuite) TestMigrationsAreIdempotent() {
	s.NoError(RunMigrations(s.db, SQLite, zap.NewNop()))

	var count int
	s.Require().NoError(s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	s.Equal(len(GetMigrations(SQLite)), count)
}

func (s *DatabaseTestSuite) TestUniqueViolationOnExternalID() {
	now := time.Now().UTC()
	insert := `INSERT INTO users (id, external_id, last_login, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(insert, "u1", "ext-1", now, now, now)
	s.Require().NoError(err)

	_, err = s.db.Exec(insert, "u2", "ext-1", now, now, now)
	s.Require().Error(err)
	s.True(IsUniqueViolation(err))
}

func (s *DatabaseTestSuite) TestUniqueViolationOnPrimaryKey() {
	now := time.Now().UTC()
	insert := `INSERT INTO billing_events (id, type, outcome, received_at) VALUES (?, ?, ?, ?)`

	_, err := s.db.Exec(insert, "evt_1", "checkout.session.completed", "applied", now)
	s.Require().NoError(err)
	_, err = s.db.Exec(insert, "evt_1", "checkout.session.completed", "applied", now)
	s.True(IsUniqueViolation(err))
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM users WHERE id = ? AND email = ?"
	assert.Equal(t, q, Rebind(SQLite, q))
	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND email = $2", Rebind(Postgres, q))
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(sql.ErrNoRows))
}

func TestOpenRejectsUnknownType(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Type: "mysql"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}
