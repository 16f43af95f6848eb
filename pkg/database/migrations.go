package database

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents one schema evolution step.
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations ships embedded in the binary so the daemon never depends on a
// migrations directory being present next to it at runtime.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "initial_schema",
		SQL: `
CREATE TABLE IF NOT EXISTS profiles (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	daily_limit_minutes INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS videos (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	platform         TEXT NOT NULL CHECK (platform IN ('youtube', 'vimeo', 'dailymotion', 'file')),
	platform_ref     TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chips (
	uid         TEXT PRIMARY KEY,
	video_id    TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	profile_id  TEXT REFERENCES profiles(id) ON DELETE SET NULL,
	cap_minutes INTEGER,
	label       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chips_video ON chips(video_id);
`,
	},
	{
		Version:     "002",
		Description: "watch_sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS watch_sessions (
	id              TEXT PRIMARY KEY,
	video_id        TEXT NOT NULL REFERENCES videos(id),
	profile_id      TEXT REFERENCES profiles(id),
	started_at      DATETIME NOT NULL,
	last_seen_at    DATETIME NOT NULL,
	watched_seconds INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'ended')),
	stop_reason     TEXT CHECK (stop_reason IN ('manual', 'daily_limit', 'video_limit')),
	ended_at        DATETIME
);

CREATE INDEX IF NOT EXISTS idx_watch_sessions_status ON watch_sessions(status);
CREATE INDEX IF NOT EXISTS idx_watch_sessions_profile_day ON watch_sessions(profile_id, started_at);
`,
	},
}

// MigrationManager applies embedded migrations in version order.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations. Each migration runs in its
// own transaction: either it fully applies and is recorded, or nothing
// changes.
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending := make([]Migration, 0, len(migrations))
	for _, migration := range migrations {
		if !contains(applied, migration.Version) {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	for _, migration := range pending {
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

// ValidateSchema ensures the database matches the expected structure.
func (m *MigrationManager) ValidateSchema() error {
	requiredTables := []string{"profiles", "videos", "chips", "watch_sessions"}
	for _, table := range requiredTables {
		exists, err := m.tableExists(table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	requiredIndexes := []string{
		"idx_chips_video",
		"idx_watch_sessions_status",
		"idx_watch_sessions_profile_day",
	}
	for _, index := range requiredIndexes {
		exists, err := m.indexExists(index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := m.db.Exec(query)
	return err
}

func (m *MigrationManager) getAppliedMigrations() ([]string, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}

	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}

	return tx.Commit()
}

func (m *MigrationManager) tableExists(tableName string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *MigrationManager) indexExists(indexName string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
