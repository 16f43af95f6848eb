package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tapdeck-test.db")
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplySQLiteOptimizations(db))
	return db
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConnMaxLifetime = time.Hour
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyMigrations_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db)

	require.NoError(t, mgr.ApplyMigrations())
	assert.NoError(t, mgr.ValidateSchema())
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db)

	require.NoError(t, mgr.ApplyMigrations())
	require.NoError(t, mgr.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count, "re-running migrations must not re-apply versions")
}

func TestValidateSchema_MissingTable(t *testing.T) {
	db := openTestDB(t)
	mgr := NewMigrationManager(db)
	require.NoError(t, mgr.ApplyMigrations())

	_, err := db.Exec("DROP TABLE chips")
	require.NoError(t, err)

	assert.Error(t, mgr.ValidateSchema())
}
