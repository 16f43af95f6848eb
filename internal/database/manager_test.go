package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "tapdeck/pkg/database"
	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "tapdeck-test.db")

	mgr, err := NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	require.NoError(t, dbconfig.NewMigrationManager(mgr.GetDB()).ApplyMigrations())
	return mgr
}

func seedLibrary(t *testing.T, mgr *Manager) {
	t.Helper()

	stmts := []string{
		`INSERT INTO profiles (id, name, daily_limit_minutes) VALUES ('kid-1', 'Maya', 60)`,
		`INSERT INTO videos (id, title, platform, platform_ref, duration_seconds)
		 VALUES ('vid-1', 'Steam Trains', 'youtube', 'dQw4w9WgXcQ', 600)`,
		`INSERT INTO chips (uid, video_id, profile_id, cap_minutes, label)
		 VALUES ('04a1b2c3d4', 'vid-1', 'kid-1', 15, 'red train chip')`,
		`INSERT INTO chips (uid, video_id, label) VALUES ('04ffffffff', 'vid-1', 'guest chip')`,
	}
	for _, stmt := range stmts {
		_, err := mgr.GetDB().Exec(stmt)
		require.NoError(t, err)
	}
}

func TestGetChip(t *testing.T) {
	mgr := newTestManager(t)
	seedLibrary(t, mgr)
	ctx := context.Background()

	chip, err := mgr.GetChip(ctx, "04a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, "vid-1", chip.VideoID)
	assert.Equal(t, "kid-1", chip.ProfileID)
	assert.Equal(t, 15, chip.CapMinutes)

	guest, err := mgr.GetChip(ctx, "04ffffffff")
	require.NoError(t, err)
	assert.Empty(t, guest.ProfileID, "unbound chip must resolve with no profile")
	assert.Zero(t, guest.CapMinutes)

	_, err = mgr.GetChip(ctx, "0000000000")
	assert.ErrorIs(t, err, interfaces.ErrChipNotFound)
}

func TestGetVideoAndProfile(t *testing.T) {
	mgr := newTestManager(t)
	seedLibrary(t, mgr)
	ctx := context.Background()

	video, err := mgr.GetVideo(ctx, "vid-1")
	require.NoError(t, err)
	assert.Equal(t, "Steam Trains", video.Title)
	assert.Equal(t, types.PlatformYouTube, video.Platform)

	_, err = mgr.GetVideo(ctx, "vid-missing")
	assert.ErrorIs(t, err, interfaces.ErrVideoNotFound)

	profile, err := mgr.GetProfile(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, 60, profile.DailyLimitMinutes)

	_, err = mgr.GetProfile(ctx, "kid-missing")
	assert.ErrorIs(t, err, interfaces.ErrProfileNotFound)
}

func TestWatchSessionLifecycle(t *testing.T) {
	mgr := newTestManager(t)
	seedLibrary(t, mgr)
	ctx := context.Background()

	now := time.Now()
	session := &types.WatchSession{
		ID:         "ws-1",
		VideoID:    "vid-1",
		ProfileID:  "kid-1",
		StartedAt:  now,
		LastSeenAt: now,
		Status:     "active",
	}
	require.NoError(t, mgr.CreateWatchSession(ctx, session))

	stored, err := mgr.GetWatchSession(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "active", stored.Status)
	assert.Zero(t, stored.WatchedSeconds)
	assert.Empty(t, stored.StopReason)
	assert.Nil(t, stored.EndedAt)

	active, err := mgr.ListActiveWatchSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ws-1", active[0].ID)

	ended := now.Add(90 * time.Second)
	stored.WatchedSeconds = 90
	stored.LastSeenAt = ended
	stored.Status = "ended"
	stored.StopReason = types.StopReasonManual
	stored.EndedAt = &ended
	require.NoError(t, mgr.UpdateWatchSession(ctx, stored))

	final, err := mgr.GetWatchSession(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ended", final.Status)
	assert.Equal(t, types.StopReasonManual, final.StopReason)
	assert.Equal(t, 90, final.WatchedSeconds)
	require.NotNil(t, final.EndedAt)

	active, err = mgr.ListActiveWatchSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = mgr.GetWatchSession(ctx, "ws-missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestWatchedSecondsToday(t *testing.T) {
	mgr := newTestManager(t)
	seedLibrary(t, mgr)
	ctx := context.Background()

	total, err := mgr.WatchedSecondsToday(ctx, "kid-1")
	require.NoError(t, err)
	assert.Zero(t, total)

	now := time.Now()
	sessions := []*types.WatchSession{
		{ID: "ws-a", VideoID: "vid-1", ProfileID: "kid-1", StartedAt: now.Add(-time.Minute), LastSeenAt: now, WatchedSeconds: 0, Status: "ended"},
		{ID: "ws-b", VideoID: "vid-1", ProfileID: "kid-1", StartedAt: now, LastSeenAt: now, WatchedSeconds: 0, Status: "active"},
		{ID: "ws-c", VideoID: "vid-1", StartedAt: now, LastSeenAt: now, WatchedSeconds: 0, Status: "active"},
	}
	for _, s := range sessions {
		require.NoError(t, mgr.CreateWatchSession(ctx, s))
	}

	for id, secs := range map[string]int{"ws-a": 600, "ws-b": 300, "ws-c": 9999} {
		s, err := mgr.GetWatchSession(ctx, id)
		require.NoError(t, err)
		s.WatchedSeconds = secs
		require.NoError(t, mgr.UpdateWatchSession(ctx, s))
	}

	// Active and ended sessions both count; the unattributed one never does.
	total, err = mgr.WatchedSecondsToday(ctx, "kid-1")
	require.NoError(t, err)
	assert.Equal(t, 900, total)
}

func TestHealthCheck(t *testing.T) {
	mgr := newTestManager(t)
	assert.NoError(t, mgr.HealthCheck(context.Background()))
}

func TestCloseRejectsWrites(t *testing.T) {
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "tapdeck-test.db")

	mgr, err := NewManager(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, dbconfig.NewMigrationManager(mgr.GetDB()).ApplyMigrations())

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close(), "double close must be a no-op")

	err = mgr.CreateWatchSession(context.Background(), &types.WatchSession{
		ID: "ws-late", VideoID: "vid-1", StartedAt: time.Now(), LastSeenAt: time.Now(), Status: "active",
	})
	assert.Error(t, err)
}
