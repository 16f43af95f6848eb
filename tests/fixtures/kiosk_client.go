package fixtures

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"tapdeck/pkg/types"
)

// KioskClient simulates one kiosk over the WebSocket surface: it sends scan,
// stop and playback_ended frames and collects session_state events.
type KioskClient struct {
	conn   *websocket.Conn
	states chan StateEvent
}

// StateEvent is one session_state frame as the kiosk sees it.
type StateEvent struct {
	Type    string         `json:"type"`
	State   string         `json:"state"`
	Session *types.Session `json:"session"`
}

// ConnectKiosk dials the daemon as the given kiosk and starts collecting
// state events.
func ConnectKiosk(t *testing.T, env *Env, kioskID, profileID string) *KioskClient {
	t.Helper()

	url := env.WSURL + "?kiosk_id=" + kioskID
	if profileID != "" {
		url += "&profile_id=" + profileID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	client := &KioskClient{
		conn:   conn,
		states: make(chan StateEvent, 64),
	}
	t.Cleanup(client.Close)

	go client.readLoop()
	return client
}

func (c *KioskClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			close(c.states)
			return
		}
		var ev StateEvent
		if json.Unmarshal(data, &ev) == nil && ev.Type == "session_state" {
			c.states <- ev
		}
	}
}

// Scan sends a chip tap frame.
func (c *KioskClient) Scan(t *testing.T, chipUID string) {
	t.Helper()
	c.send(t, map[string]string{"type": "scan", "chip_uid": chipUID})
}

// Stop sends a stop-button frame.
func (c *KioskClient) Stop(t *testing.T) {
	t.Helper()
	c.send(t, map[string]string{"type": "stop"})
}

// PlaybackEnded reports that the video finished on its own.
func (c *KioskClient) PlaybackEnded(t *testing.T) {
	t.Helper()
	c.send(t, map[string]string{"type": "playback_ended"})
}

func (c *KioskClient) send(t *testing.T, frame map[string]string) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// WaitForState blocks until a session_state frame with the given state
// arrives, skipping intermediate states.
func (c *KioskClient) WaitForState(t *testing.T, state string) StateEvent {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.states:
			if !ok {
				t.Fatalf("connection closed while waiting for state %q", state)
			}
			if ev.State == state {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %q", state)
		}
	}
}

// Close shuts the client connection down.
func (c *KioskClient) Close() {
	_ = c.conn.Close()
}
