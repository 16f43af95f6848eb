package scenarios

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapdeck/pkg/types"
	"tapdeck/tests/fixtures"
)

// scanOverHTTP posts one chip tap to the daemon and decodes the response.
func scanOverHTTP(t *testing.T, env *fixtures.Env, kioskID, chipUID, profileID string) (*http.Response, *types.Session) {
	t.Helper()

	body, err := json.Marshal(map[string]string{
		"kiosk_id":   kioskID,
		"chip_uid":   chipUID,
		"profile_id": profileID,
	})
	require.NoError(t, err)

	resp, err := http.Post(env.BaseURL+"/api/scan", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if resp.StatusCode != http.StatusCreated {
		return resp, nil
	}
	var scanResp struct {
		Session *types.Session `json:"session"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scanResp))
	require.NotNil(t, scanResp.Session)
	return resp, scanResp.Session
}

func TestWatchFlowOverHTTP(t *testing.T) {
	env := fixtures.BootApp(t)
	kiosk := fixtures.ConnectKiosk(t, env, "kiosk-den", "")

	// Tap the train chip: bound to Maya with a 60 minute daily budget and a
	// 15 minute per-video cap.
	resp, sess := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipTrains, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	assert.Equal(t, fixtures.VideoTrains, sess.VideoID)
	assert.Equal(t, fixtures.ProfileMaya, sess.ProfileID)
	assert.Equal(t, types.StateActive, sess.State)
	assert.Equal(t, 15, sess.PerVideoCapMinutes)
	require.NotNil(t, sess.DailyLimitRemaining)
	assert.Equal(t, 60, *sess.DailyLimitRemaining)

	// The kiosk display learns about the session over its socket.
	ev := kiosk.WaitForState(t, types.StateActive)
	require.NotNil(t, ev.Session)
	assert.Equal(t, sess.SessionID, ev.Session.SessionID)

	// The session is inspectable while it runs.
	getResp, err := http.Get(env.BaseURL + "/api/sessions/" + sess.SessionID)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	// Parent presses stop in the admin app.
	req, err := http.NewRequest(http.MethodDelete, env.BaseURL+"/api/sessions/"+sess.SessionID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, delResp.StatusCode)

	kiosk.WaitForState(t, types.StateEnded)

	row := env.WaitForSessionStatus(t, sess.SessionID, "ended")
	assert.Equal(t, types.StopReasonManual, row.StopReason)
}

func TestWatchFlowOverWebSocket(t *testing.T) {
	env := fixtures.BootApp(t)
	kiosk := fixtures.ConnectKiosk(t, env, "kiosk-playroom", "")

	// The ocean chip is unbound: viewing is unattributed and no budget
	// applies.
	kiosk.Scan(t, fixtures.ChipOcean)

	ev := kiosk.WaitForState(t, types.StateActive)
	require.NotNil(t, ev.Session)
	assert.Equal(t, fixtures.VideoOcean, ev.Session.VideoID)
	assert.Empty(t, ev.Session.ProfileID)
	assert.Nil(t, ev.Session.DailyLimitRemaining)

	// The stop button on the kiosk ends the session.
	kiosk.Stop(t)
	kiosk.WaitForState(t, types.StateEnded)

	row := env.WaitForSessionStatus(t, ev.Session.SessionID, "ended")
	assert.Equal(t, types.StopReasonManual, row.StopReason)
}

func TestKioskProfileAttributesScans(t *testing.T) {
	env := fixtures.BootApp(t)
	kiosk := fixtures.ConnectKiosk(t, env, "kiosk-theo", fixtures.ProfileTheo)

	// An unbound chip on a kiosk registered to Theo counts against Theo.
	kiosk.Scan(t, fixtures.ChipOcean)

	ev := kiosk.WaitForState(t, types.StateActive)
	require.NotNil(t, ev.Session)
	assert.Equal(t, fixtures.ProfileTheo, ev.Session.ProfileID)
	// Theo has no daily budget.
	assert.Nil(t, ev.Session.DailyLimitRemaining)
}

func TestPlaybackEndedClosesSession(t *testing.T) {
	env := fixtures.BootApp(t)
	kiosk := fixtures.ConnectKiosk(t, env, "kiosk-den", "")

	_, sess := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipOcean, "")
	require.NotNil(t, sess)
	kiosk.WaitForState(t, types.StateActive)

	// The video ran to its natural end.
	kiosk.PlaybackEnded(t)
	kiosk.WaitForState(t, types.StateEnded)

	row := env.WaitForSessionStatus(t, sess.SessionID, "ended")
	assert.Equal(t, types.StopReasonManual, row.StopReason)
}

func TestRescanReplacesRunningSession(t *testing.T) {
	env := fixtures.BootApp(t)
	kiosk := fixtures.ConnectKiosk(t, env, "kiosk-den", "")

	_, first := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipTrains, "")
	require.NotNil(t, first)
	kiosk.WaitForState(t, types.StateActive)

	// Tapping a second chip means "play this instead": the first session is
	// closed out before the new one starts.
	resp, second := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipOcean, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, fixtures.VideoOcean, second.VideoID)

	firstRow := env.WaitForSessionStatus(t, first.SessionID, "ended")
	assert.Equal(t, types.StopReasonManual, firstRow.StopReason)
	secondRow := env.SessionRow(t, second.SessionID)
	assert.Equal(t, "active", secondRow.Status)
}

func TestKioskReconnectKeepsSession(t *testing.T) {
	env := fixtures.BootApp(t)
	first := fixtures.ConnectKiosk(t, env, "kiosk-den", "")

	_, sess := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipTrains, "")
	require.NotNil(t, sess)
	first.WaitForState(t, types.StateActive)

	// The kiosk app restarts mid-video and reconnects. The old socket's
	// teardown must not end the session, and the new socket gets the current
	// state replayed so its UI can resync.
	second := fixtures.ConnectKiosk(t, env, "kiosk-den", "")
	replay := second.WaitForState(t, types.StateActive)
	require.NotNil(t, replay.Session)
	assert.Equal(t, sess.SessionID, replay.Session.SessionID)

	time.Sleep(300 * time.Millisecond)
	row := env.SessionRow(t, sess.SessionID)
	assert.Equal(t, "active", row.Status)

	// The replacement socket fully drives the session from here on.
	second.Stop(t)
	second.WaitForState(t, types.StateEnded)
	ended := env.WaitForSessionStatus(t, sess.SessionID, "ended")
	assert.Equal(t, types.StopReasonManual, ended.StopReason)
}

func TestKioskDisconnectEndsSession(t *testing.T) {
	env := fixtures.BootApp(t)
	kiosk := fixtures.ConnectKiosk(t, env, "kiosk-den", "")

	_, sess := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipTrains, "")
	require.NotNil(t, sess)
	kiosk.WaitForState(t, types.StateActive)

	// Power loss on the kiosk: the socket drops and the daemon closes the
	// session so watched time stops accruing.
	kiosk.Close()

	row := env.WaitForSessionStatus(t, sess.SessionID, "ended")
	assert.Equal(t, types.StopReasonManual, row.StopReason)
}

func TestHealthReportsConnectedKiosks(t *testing.T) {
	env := fixtures.BootApp(t)
	fixtures.ConnectKiosk(t, env, "kiosk-den", "")
	fixtures.ConnectKiosk(t, env, "kiosk-playroom", fixtures.ProfileMaya)

	resp, err := http.Get(env.BaseURL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status     string `json:"status"`
		Database   string `json:"database"`
		KioskCount int    `json:"kiosk_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Database)
	assert.Equal(t, 2, health.KioskCount)
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var errResp struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	return errResp.Message
}

func TestScanRejectsUnmappedChip(t *testing.T) {
	env := fixtures.BootApp(t)

	resp, _ := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipUnmapped, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), "not mapped")
}

func TestScanRejectsSpentDailyBudget(t *testing.T) {
	env := fixtures.BootApp(t)

	// Maya already watched her full 60 minutes today.
	fixtures.ExhaustDailyBudget(t, env.DB, fixtures.ProfileMaya, 3600)

	resp, _ := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipTrains, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp), "Daily watch limit")

	// No session row was created for the rejected tap.
	var count int
	err := env.DB.QueryRow(
		"SELECT COUNT(*) FROM watch_sessions WHERE status = 'active'",
	).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSessionLookupAfterEnd(t *testing.T) {
	env := fixtures.BootApp(t)
	kiosk := fixtures.ConnectKiosk(t, env, "kiosk-den", "")

	_, sess := scanOverHTTP(t, env, "kiosk-den", fixtures.ChipOcean, "")
	require.NotNil(t, sess)
	kiosk.WaitForState(t, types.StateActive)

	kiosk.Stop(t)
	kiosk.WaitForState(t, types.StateEnded)
	env.WaitForSessionStatus(t, sess.SessionID, "ended")

	// Live lookup only covers running sessions; history stays in the
	// database for the admin app.
	resp, err := http.Get(fmt.Sprintf("%s/api/sessions/%s", env.BaseURL, sess.SessionID))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
