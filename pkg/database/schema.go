package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation separate from the
// migration system, for deployment verification.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"profiles":          "Child profile storage",
		"videos":            "Video library storage",
		"chips":             "NFC chip mappings",
		"watch_sessions":    "Watch session accounting",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column structure matches the Go structs
// that scan from these tables.
func (v *SchemaValidator) ValidateTableStructure() error {
	profileColumns := map[string]string{
		"id":                  "TEXT",
		"name":                "TEXT",
		"daily_limit_minutes": "INTEGER",
		"created_at":          "DATETIME",
	}
	if err := v.validateColumns("profiles", profileColumns); err != nil {
		return fmt.Errorf("profiles table structure invalid: %w", err)
	}

	chipColumns := map[string]string{
		"uid":         "TEXT",
		"video_id":    "TEXT",
		"profile_id":  "TEXT",
		"cap_minutes": "INTEGER",
		"label":       "TEXT",
		"created_at":  "DATETIME",
	}
	if err := v.validateColumns("chips", chipColumns); err != nil {
		return fmt.Errorf("chips table structure invalid: %w", err)
	}

	sessionColumns := map[string]string{
		"id":              "TEXT",
		"video_id":        "TEXT",
		"profile_id":      "TEXT",
		"started_at":      "DATETIME",
		"last_seen_at":    "DATETIME",
		"watched_seconds": "INTEGER",
		"status":          "TEXT",
		"stop_reason":     "TEXT",
		"ended_at":        "DATETIME",
	}
	if err := v.validateColumns("watch_sessions", sessionColumns); err != nil {
		return fmt.Errorf("watch_sessions table structure invalid: %w", err)
	}

	return nil
}

// ValidateConstraints verifies integrity rules are enforced at the database
// level: chips must reference existing videos, session status and stop
// reasons are restricted to known values.
func (v *SchemaValidator) ValidateConstraints() error {
	// Foreign key: chips.video_id -> videos.id
	_, err := v.db.Exec(`
		INSERT INTO chips (uid, video_id) VALUES ('deadbeef00', 'nonexistent-video')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM chips WHERE uid = 'deadbeef00'")
		return fmt.Errorf("foreign key constraint not enforced: chips.video_id")
	}

	// Check constraint: watch_sessions.status
	_, err = v.db.Exec(`
		INSERT INTO videos (id, title, platform, platform_ref) VALUES ('schema-test-video', 'Test', 'file', '/t.mp4')
	`)
	if err != nil {
		return fmt.Errorf("failed to create test video: %w", err)
	}

	_, err = v.db.Exec(`
		INSERT INTO watch_sessions (id, video_id, started_at, last_seen_at, status)
		VALUES ('schema-test-session', 'schema-test-video', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, 'paused')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM watch_sessions WHERE id = 'schema-test-session'")
		_, _ = v.db.Exec("DELETE FROM videos WHERE id = 'schema-test-video'")
		return fmt.Errorf("check constraint not enforced: watch_sessions.status")
	}

	_, _ = v.db.Exec("DELETE FROM videos WHERE id = 'schema-test-video'")

	return nil
}

func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return rows.Err()
}
