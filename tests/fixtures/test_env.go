package fixtures

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"tapdeck/internal/app"
	"tapdeck/internal/config"
)

// Env is one booted daemon with a seeded library, direct database access for
// assertions and addresses for HTTP and WebSocket clients.
type Env struct {
	App     *app.Application
	DB      *sql.DB
	BaseURL string
	WSURL   string
	Config  *config.Config
}

// BootApp starts the full daemon on a loopback port with a temp database and
// a fast heartbeat cadence, seeds the standard library and registers
// teardown.
func BootApp(t *testing.T) *Env {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "tapdeck-e2e.db")
	port := freePort(t)

	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port
	cfg.Heartbeat.BaseInterval = 100 * time.Millisecond
	cfg.Heartbeat.MaxInterval = 400 * time.Millisecond
	cfg.Log.Level = "error"

	application, err := app.NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})

	// Second connection to the same file for seeding and assertions; WAL
	// mode makes this safe alongside the daemon's pool.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	SeedLibrary(t, db)

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	return &Env{
		App:     application,
		DB:      db,
		BaseURL: base,
		WSURL:   fmt.Sprintf("ws://127.0.0.1:%d/ws", port),
		Config:  cfg,
	}
}

// SessionRow is the persisted view of a watch session for assertions.
type SessionRow struct {
	Status         string
	StopReason     string
	WatchedSeconds int
}

// SessionRow reads one watch_sessions row.
func (e *Env) SessionRow(t *testing.T, sessionID string) *SessionRow {
	t.Helper()

	var row SessionRow
	var stopReason sql.NullString
	err := e.DB.QueryRow(
		"SELECT status, stop_reason, watched_seconds FROM watch_sessions WHERE id = ?",
		sessionID,
	).Scan(&row.Status, &stopReason, &row.WatchedSeconds)
	require.NoError(t, err)
	if stopReason.Valid {
		row.StopReason = stopReason.String
	}
	return &row
}

// WaitForSessionStatus polls until the session row reaches the wanted status.
func (e *Env) WaitForSessionStatus(t *testing.T, sessionID, status string) *SessionRow {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var got string
		err := e.DB.QueryRow("SELECT status FROM watch_sessions WHERE id = ?", sessionID).Scan(&got)
		if err == nil && got == status {
			return e.SessionRow(t, sessionID)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %q", sessionID, status)
	return nil
}

func freePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}
