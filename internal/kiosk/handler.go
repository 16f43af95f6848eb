package kiosk

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"tapdeck/pkg/types"
)

// Events is the hub-facing side of the kiosk surface. The transport layer
// translates socket frames into these calls and nothing else - quota and
// session decisions stay out of this package.
type Events interface {
	// KioskAttached fires once a kiosk's connection is registered.
	KioskAttached(kioskID, profileID string)

	// KioskDetached fires when a kiosk's current connection goes away.
	KioskDetached(kioskID string)

	// ChipScanned fires when the kiosk's NFC reader reports a tap.
	ChipScanned(kioskID, chipUID string)

	// PlaybackEnded fires when the video finished on its own.
	PlaybackEnded(kioskID string)

	// StopRequested fires when someone pressed stop on the kiosk.
	StopRequested(kioskID string)
}

// inboundMessage is the envelope for every frame a kiosk sends.
type inboundMessage struct {
	Type    string `json:"type"`
	ChipUID string `json:"chip_uid,omitempty"`
}

// WebSocket upgrader. Kiosks live on the household LAN; origin checking is
// left open the same way the HTTP surface allows all origins.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades kiosk sockets and pumps their messages into the hub.
type Handler struct {
	registry *Registry
	events   Events
	logger   zerolog.Logger
}

// NewHandler creates a WebSocket handler for kiosk connections.
func NewHandler(registry *Registry, events Events, logger zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		events:   events,
		logger:   logger.With().Str("component", "kiosk-handler").Logger(),
	}
}

// HandleWebSocket validates the kiosk identity, upgrades the connection and
// starts the read pump. Validation happens before the upgrade so bad requests
// get proper HTTP status codes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	kioskID := r.URL.Query().Get("kiosk_id")
	profileID := r.URL.Query().Get("profile_id")

	if kioskID == "" {
		http.Error(w, "Missing required query parameter: kiosk_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidKioskID(kioskID) {
		http.Error(w, "Invalid kiosk_id format", http.StatusBadRequest)
		return
	}
	if profileID != "" && !types.IsValidProfileID(profileID) {
		http.Error(w, "Invalid profile_id format", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn)
	wsConn.SetIdentity(kioskID, profileID)

	if err := h.registry.Register(wsConn); err != nil {
		h.logger.Error().Err(err).Str("kiosk_id", kioskID).Msg("failed to register connection")
		_ = wsConn.Close()
		return
	}

	h.logger.Info().Str("kiosk_id", kioskID).Str("profile_id", profileID).Msg("kiosk attached")
	h.events.KioskAttached(kioskID, profileID)

	go h.handleConnection(wsConn)
}

// handleConnection owns the read pump and ping/pong liveness for one socket.
// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
// tolerates sleepy tablet kiosks without keeping dead sockets around
func (h *Handler) handleConnection(conn *Connection) {
	kioskID := conn.GetKioskID()

	defer func() {
		// A socket replaced by a reconnect is no longer current; its cleanup
		// must not detach the kiosk the successor is serving.
		wasCurrent := h.registry.Unregister(conn)
		_ = conn.Close()
		if wasCurrent {
			h.logger.Info().Str("kiosk_id", kioskID).Msg("kiosk detached")
			h.events.KioskDetached(kioskID)
		} else {
			h.logger.Debug().Str("kiosk_id", kioskID).Msg("superseded kiosk socket closed")
		}
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("kiosk_id", kioskID).Msg("websocket read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}
		h.dispatch(kioskID, data)
	}
}

// dispatch routes one inbound frame to the hub. Unknown frame types are
// logged and dropped rather than killing the connection.
func (h *Handler) dispatch(kioskID string, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn().Err(err).Str("kiosk_id", kioskID).Msg("malformed kiosk frame")
		return
	}

	switch msg.Type {
	case "scan":
		if !types.IsValidChipUID(msg.ChipUID) {
			h.logger.Warn().Str("kiosk_id", kioskID).Str("chip_uid", msg.ChipUID).Msg("scan frame with invalid chip uid")
			return
		}
		h.events.ChipScanned(kioskID, msg.ChipUID)
	case "playback_ended":
		h.events.PlaybackEnded(kioskID)
	case "stop":
		h.events.StopRequested(kioskID)
	default:
		h.logger.Warn().Str("kiosk_id", kioskID).Str("type", msg.Type).Msg("unknown kiosk frame type")
	}
}
