package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "tapdeck/pkg/database"
	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

// Manager implements the Store interface on SQLite.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and starts the write loop.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Connection pool sized for concurrent reads; writes funnel through one
	// goroutine regardless.
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "store").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn().Err(err).Msg("database write failed, retrying in 5 seconds")
				time.Sleep(5 * time.Second)
				err = op.operation(m.db) // Retry once
				if err != nil {
					m.logger.Error().Err(err).Msg("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// GetChip retrieves a chip mapping by UID.
func (m *Manager) GetChip(ctx context.Context, chipUID string) (*types.Chip, error) {
	query := `
		SELECT uid, video_id, profile_id, cap_minutes, label, created_at
		FROM chips
		WHERE uid = ?
	`

	row := m.db.QueryRowContext(ctx, query, chipUID)

	var chip types.Chip
	var profileID sql.NullString
	var capMinutes sql.NullInt64

	err := row.Scan(
		&chip.UID,
		&chip.VideoID,
		&profileID,
		&capMinutes,
		&chip.Label,
		&chip.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrChipNotFound
		}
		return nil, fmt.Errorf("failed to query chip: %w", err)
	}

	if profileID.Valid {
		chip.ProfileID = profileID.String
	}
	if capMinutes.Valid {
		chip.CapMinutes = int(capMinutes.Int64)
	}

	return &chip, nil
}

// GetVideo retrieves a video by ID.
func (m *Manager) GetVideo(ctx context.Context, videoID string) (*types.Video, error) {
	query := `
		SELECT id, title, platform, platform_ref, duration_seconds, created_at
		FROM videos
		WHERE id = ?
	`

	row := m.db.QueryRowContext(ctx, query, videoID)

	var video types.Video
	err := row.Scan(
		&video.ID,
		&video.Title,
		&video.Platform,
		&video.PlatformRef,
		&video.DurationSeconds,
		&video.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to query video: %w", err)
	}

	return &video, nil
}

// GetProfile retrieves a profile by ID.
func (m *Manager) GetProfile(ctx context.Context, profileID string) (*types.Profile, error) {
	query := `
		SELECT id, name, daily_limit_minutes, created_at
		FROM profiles
		WHERE id = ?
	`

	row := m.db.QueryRowContext(ctx, query, profileID)

	var profile types.Profile
	err := row.Scan(
		&profile.ID,
		&profile.Name,
		&profile.DailyLimitMinutes,
		&profile.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	return &profile, nil
}

// CreateWatchSession inserts a new active session row.
func (m *Manager) CreateWatchSession(ctx context.Context, session *types.WatchSession) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO watch_sessions (id, video_id, profile_id, started_at, last_seen_at, watched_seconds, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`

		_, err := db.ExecContext(ctx, query,
			session.ID,
			session.VideoID,
			nullableString(session.ProfileID),
			session.StartedAt,
			session.LastSeenAt,
			session.WatchedSeconds,
			session.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert watch session: %w", err)
		}

		return nil
	})
}

// GetWatchSession retrieves a session row by ID.
func (m *Manager) GetWatchSession(ctx context.Context, sessionID string) (*types.WatchSession, error) {
	query := `
		SELECT id, video_id, profile_id, started_at, last_seen_at, watched_seconds, status, stop_reason, ended_at
		FROM watch_sessions
		WHERE id = ?
	`

	row := m.db.QueryRowContext(ctx, query, sessionID)

	session, err := scanWatchSession(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query watch session: %w", err)
	}

	return session, nil
}

// UpdateWatchSession updates liveness and accounting fields of a session.
func (m *Manager) UpdateWatchSession(ctx context.Context, session *types.WatchSession) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			UPDATE watch_sessions
			SET last_seen_at = ?, watched_seconds = ?, status = ?, stop_reason = ?, ended_at = ?
			WHERE id = ?
		`

		_, err := db.ExecContext(ctx, query,
			session.LastSeenAt,
			session.WatchedSeconds,
			session.Status,
			nullableString(session.StopReason),
			session.EndedAt,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update watch session: %w", err)
		}

		return nil
	})
}

// ListActiveWatchSessions returns all sessions still marked active, most
// recent first. Used on startup to reconcile rows orphaned by a crash.
func (m *Manager) ListActiveWatchSessions(ctx context.Context) ([]*types.WatchSession, error) {
	query := `
		SELECT id, video_id, profile_id, started_at, last_seen_at, watched_seconds, status, stop_reason, ended_at
		FROM watch_sessions
		WHERE status = 'active'
		ORDER BY started_at DESC
	`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active watch sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.WatchSession
	for rows.Next() {
		session, err := scanWatchSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan watch session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watch session rows: %w", err)
	}

	return sessions, nil
}

// WatchedSecondsToday sums watched_seconds across the profile's sessions
// started today in local time, active sessions included.
// FUNCTIONAL DISCOVERY: the day boundary follows the household's wall clock,
// not UTC - a limit that resets at 4pm is a support ticket
func (m *Manager) WatchedSecondsToday(ctx context.Context, profileID string) (int, error) {
	query := `
		SELECT COALESCE(SUM(watched_seconds), 0)
		FROM watch_sessions
		WHERE profile_id = ?
		  AND date(started_at, 'localtime') = date('now', 'localtime')
	`

	var total int
	err := m.db.QueryRowContext(ctx, query, profileID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum watched seconds: %w", err)
	}

	return total, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM watch_sessions LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait() // Wait for write loop to finish processing

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// scanWatchSession scans one watch_sessions row, handling the nullable
// profile_id, stop_reason and ended_at columns.
func scanWatchSession(scan func(dest ...interface{}) error) (*types.WatchSession, error) {
	var session types.WatchSession
	var profileID sql.NullString
	var stopReason sql.NullString
	var endedAt sql.NullTime

	err := scan(
		&session.ID,
		&session.VideoID,
		&profileID,
		&session.StartedAt,
		&session.LastSeenAt,
		&session.WatchedSeconds,
		&session.Status,
		&stopReason,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	if profileID.Valid {
		session.ProfileID = profileID.String
	}
	if stopReason.Valid {
		session.StopReason = stopReason.String
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}

	return &session, nil
}

// nullableString maps "" to NULL so empty optional fields never trip check or
// foreign key constraints.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
