package fixtures

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

// Seed identifiers shared by the scenario suite.
const (
	ProfileMaya = "kid-maya" // 60 minute daily limit
	ProfileTheo = "kid-theo" // unlimited

	VideoTrains = "vid-trains"
	VideoOcean  = "vid-ocean"

	ChipTrains      = "04a1b2c3d4e5" // bound to Maya, 15 minute cap
	ChipOcean       = "04f6e7d8c9ba" // unbound guest chip
	ChipUnmapped    = "04ffffffff"
	ChipBrokenVideo = "04baadf00d01" // points at a deleted video
)

// SeedLibrary inserts the standard household library: two profiles, two
// videos and three chips.
func SeedLibrary(t *testing.T, db *sql.DB) {
	t.Helper()

	stmts := []string{
		`INSERT INTO profiles (id, name, daily_limit_minutes) VALUES ('` + ProfileMaya + `', 'Maya', 60)`,
		`INSERT INTO profiles (id, name, daily_limit_minutes) VALUES ('` + ProfileTheo + `', 'Theo', 0)`,
		`INSERT INTO videos (id, title, platform, platform_ref, duration_seconds)
		 VALUES ('` + VideoTrains + `', 'Steam Trains', 'youtube', 'dQw4w9WgXcQ', 600)`,
		`INSERT INTO videos (id, title, platform, platform_ref, duration_seconds)
		 VALUES ('` + VideoOcean + `', 'Ocean Life', 'file', '/media/ocean.mp4', 1200)`,
		`INSERT INTO chips (uid, video_id, profile_id, cap_minutes, label)
		 VALUES ('` + ChipTrains + `', '` + VideoTrains + `', '` + ProfileMaya + `', 15, 'red train chip')`,
		`INSERT INTO chips (uid, video_id, label)
		 VALUES ('` + ChipOcean + `', '` + VideoOcean + `', 'blue ocean chip')`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

// ExhaustDailyBudget inserts an already-ended session today that consumes the
// profile's entire budget.
func ExhaustDailyBudget(t *testing.T, db *sql.DB, profileID string, seconds int) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO watch_sessions (id, video_id, profile_id, started_at, last_seen_at, watched_seconds, status, stop_reason, ended_at)
		VALUES ('seed-burn-`+profileID+`', ?, ?, datetime('now'), datetime('now'), ?, 'ended', 'manual', datetime('now'))
	`, VideoTrains, profileID, seconds)
	require.NoError(t, err)
}
