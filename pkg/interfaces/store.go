package interfaces

import (
	"context"

	"tapdeck/pkg/types"
)

// Store handles all database operations the daemon needs.
// ARCHITECTURAL DISCOVERY: Library tables (profiles, videos, chips) are
// read-only from the daemon's perspective - the parent-facing admin app owns
// curation. Only watch_sessions rows are written here.
type Store interface {
	// Library reads

	// GetChip retrieves a chip mapping by UID.
	GetChip(ctx context.Context, chipUID string) (*types.Chip, error)

	// GetVideo retrieves a video by ID.
	GetVideo(ctx context.Context, videoID string) (*types.Video, error)

	// GetProfile retrieves a profile by ID.
	GetProfile(ctx context.Context, profileID string) (*types.Profile, error)

	// Watch session operations

	// CreateWatchSession inserts a new active session row.
	CreateWatchSession(ctx context.Context, session *types.WatchSession) error

	// GetWatchSession retrieves a session row by ID.
	GetWatchSession(ctx context.Context, sessionID string) (*types.WatchSession, error)

	// UpdateWatchSession updates liveness and accounting fields of a session
	// (last_seen_at, watched_seconds, status, stop_reason, ended_at).
	UpdateWatchSession(ctx context.Context, session *types.WatchSession) error

	// ListActiveWatchSessions returns all session rows still marked active,
	// used to reconcile sessions orphaned by a crash.
	ListActiveWatchSessions(ctx context.Context) ([]*types.WatchSession, error)

	// WatchedSecondsToday sums watched_seconds across the profile's sessions
	// started today (local time). The sum includes active sessions.
	WatchedSecondsToday(ctx context.Context, profileID string) (int, error)

	// Health and lifecycle

	// HealthCheck verifies database connectivity.
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and stops the write loop.
	Close() error
}
