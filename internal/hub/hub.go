package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tapdeck/internal/heartbeat"
	"tapdeck/internal/kiosk"
	"tapdeck/internal/requests"
	"tapdeck/internal/session"
	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

// Config holds the heartbeat cadence handed to every controller the hub
// creates.
type Config struct {
	HeartbeatBase time.Duration
	HeartbeatMax  time.Duration
	BackoffFactor float64
}

// Hub owns one session controller per kiosk and fans session state out to
// the kiosk's current connection.
// ARCHITECTURAL DISCOVERY: Central coordination point between the transport
// layer and the session core - kiosk frames become controller calls here and
// nowhere else
type Hub struct {
	resolver interfaces.ChipResolver
	quota    interfaces.QuotaStore
	registry *kiosk.Registry
	config   Config
	logger   zerolog.Logger

	// Buffered channel prevents the WebSocket read pumps from blocking on a
	// busy hub; shutdownChannel is unbuffered for immediate signaling.
	eventChannel    chan event
	shutdownChannel chan struct{}

	mu          sync.RWMutex
	running     bool
	controllers map[string]*session.Controller // kioskID -> controller
}

// event is one kiosk-originated occurrence processed by the run loop.
type event struct {
	kind    string // "scan", "stop", "playback_ended", "detach"
	kioskID string
	chipUID string
}

// NewHub creates a hub. Controllers are created lazily per kiosk.
func NewHub(resolver interfaces.ChipResolver, quota interfaces.QuotaStore, registry *kiosk.Registry, config Config, logger zerolog.Logger) *Hub {
	return &Hub{
		resolver:        resolver,
		quota:           quota,
		registry:        registry,
		config:          config,
		logger:          logger.With().Str("component", "hub").Logger(),
		eventChannel:    make(chan event, 100),
		shutdownChannel: make(chan struct{}),
		controllers:     make(map[string]*session.Controller),
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	h.logger.Info().Msg("starting hub")
	go h.run(ctx)

	return nil
}

// Stop shuts down the run loop and tears down every controller. Each
// teardown cancels the controller's in-flight requests first and issues its
// best-effort end from a detached goroutine.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}

	controllers := h.controllers
	h.controllers = make(map[string]*session.Controller)
	h.mu.Unlock()

	h.logger.Info().Msg("stopping hub")
	for kioskID, ctrl := range controllers {
		h.logger.Debug().Str("kiosk_id", kioskID).Msg("closing controller")
		ctrl.Close()
	}

	return nil
}

// Scan drives a chip scan for a kiosk, creating its controller on first use.
// Called synchronously from the HTTP API; WebSocket-originated scans arrive
// through the event loop.
func (h *Hub) Scan(ctx context.Context, kioskID, chipUID, profileID string) (*types.Session, error) {
	ctrl, err := h.controllerFor(kioskID)
	if err != nil {
		return nil, err
	}
	return ctrl.Scan(ctx, chipUID, profileID)
}

// SessionByID returns a snapshot of the session with the given ID, searching
// every kiosk's controller.
func (h *Hub) SessionByID(sessionID string) (*types.Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ctrl := range h.controllers {
		if current := ctrl.Current(); current != nil && current.SessionID == sessionID {
			return current, nil
		}
	}
	return nil, interfaces.ErrSessionNotFound
}

// StopSessionByID requests a manual stop of the session with the given ID.
// The stop itself runs detached: callers get an answer as soon as the
// session is located, not when the end call completes.
func (h *Hub) StopSessionByID(sessionID string) error {
	h.mu.RLock()
	var target *session.Controller
	for _, ctrl := range h.controllers {
		if current := ctrl.Current(); current != nil && current.SessionID == sessionID {
			target = ctrl
			break
		}
	}
	h.mu.RUnlock()

	if target == nil {
		return interfaces.ErrSessionNotFound
	}

	go func() {
		if err := target.Stop(types.StopReasonManual); err != nil {
			h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("manual stop failed")
		}
	}()
	return nil
}

// KioskCount returns the number of connected kiosks, for health reporting.
func (h *Hub) KioskCount() int {
	return h.registry.Count()
}

// KioskAttached implements kiosk.Events. A kiosk that reconnects mid-session
// gets the current session state replayed so its UI can resync.
func (h *Hub) KioskAttached(kioskID, profileID string) {
	h.mu.RLock()
	ctrl, ok := h.controllers[kioskID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if current := ctrl.Current(); current != nil {
		surface := &kioskSurface{hub: h, kioskID: kioskID}
		surface.SessionStateChanged(current.State, current)
	}
}

// KioskDetached implements kiosk.Events.
func (h *Hub) KioskDetached(kioskID string) {
	h.queue(event{kind: "detach", kioskID: kioskID})
}

// ChipScanned implements kiosk.Events.
func (h *Hub) ChipScanned(kioskID, chipUID string) {
	h.queue(event{kind: "scan", kioskID: kioskID, chipUID: chipUID})
}

// PlaybackEnded implements kiosk.Events.
func (h *Hub) PlaybackEnded(kioskID string) {
	h.queue(event{kind: "playback_ended", kioskID: kioskID})
}

// StopRequested implements kiosk.Events.
func (h *Hub) StopRequested(kioskID string) {
	h.queue(event{kind: "stop", kioskID: kioskID})
}

func (h *Hub) queue(ev event) {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		h.logger.Warn().Str("kind", ev.kind).Str("kiosk_id", ev.kioskID).Msg("event dropped, hub not running")
		return
	}
	h.mu.RUnlock()

	select {
	case h.eventChannel <- ev:
	default:
		// Dropping beats deadlocking a read pump; the kiosk retries taps.
		h.logger.Warn().Str("kind", ev.kind).Str("kiosk_id", ev.kioskID).Msg("event dropped, channel full")
	}
}

// run is the main hub processing loop. All quota and database calls are
// process-local, so serial handling keeps per-kiosk ordering without
// noticeable latency.
func (h *Hub) run(ctx context.Context) {
	defer h.logger.Info().Msg("hub processing stopped")

	for {
		select {
		case ev := <-h.eventChannel:
			h.handleEvent(ctx, ev)

		case <-h.shutdownChannel:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, ev event) {
	switch ev.kind {
	case "scan":
		profileID := ""
		if conn, ok := h.registry.Get(ev.kioskID); ok {
			profileID = conn.GetProfileID()
		}
		if _, err := h.Scan(ctx, ev.kioskID, ev.chipUID, profileID); err != nil {
			h.logger.Warn().Err(err).
				Str("kiosk_id", ev.kioskID).
				Str("chip_uid", ev.chipUID).
				Msg("scan failed")
		}

	case "stop":
		if ctrl, ok := h.controller(ev.kioskID); ok {
			if err := ctrl.Stop(types.StopReasonManual); err != nil {
				h.logger.Warn().Err(err).Str("kiosk_id", ev.kioskID).Msg("stop failed")
			}
		}

	case "playback_ended":
		if ctrl, ok := h.controller(ev.kioskID); ok {
			ctrl.PlaybackEnded()
		}

	case "detach":
		h.detachKiosk(ev.kioskID)
	}
}

// detachKiosk tears down the kiosk's controller. The controller cancels all
// in-flight requests first and ends any active session best-effort.
func (h *Hub) detachKiosk(kioskID string) {
	h.mu.Lock()
	ctrl, ok := h.controllers[kioskID]
	if ok {
		delete(h.controllers, kioskID)
	}
	h.mu.Unlock()

	if ok {
		h.logger.Info().Str("kiosk_id", kioskID).Msg("tearing down controller for detached kiosk")
		ctrl.Close()
	}
}

func (h *Hub) controller(kioskID string) (*session.Controller, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ctrl, ok := h.controllers[kioskID]
	return ctrl, ok
}

// controllerFor returns the kiosk's controller, creating it on first use.
// Each controller gets its own request manager and scheduler; they are
// lifetime-scoped to the controller and torn down with it.
func (h *Hub) controllerFor(kioskID string) (*session.Controller, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil, ErrHubNotRunning
	}
	if ctrl, ok := h.controllers[kioskID]; ok {
		return ctrl, nil
	}

	logger := h.logger.With().Str("kiosk_id", kioskID).Logger()
	ctrl := session.NewController(
		h.resolver,
		h.quota,
		requests.NewManager(),
		heartbeat.NewScheduler(h.config.HeartbeatBase, h.config.HeartbeatMax, h.config.BackoffFactor, logger),
		&kioskSurface{hub: h, kioskID: kioskID},
		logger,
	)
	h.controllers[kioskID] = ctrl
	return ctrl, nil
}

// kioskSurface delivers session state changes to one kiosk's current
// connection. Lookups go through the registry at send time so a reconnected
// kiosk receives events without the controller knowing sockets exist.
type kioskSurface struct {
	hub     *Hub
	kioskID string
}

// sessionStateFrame is the outbound envelope for state fan-out.
type sessionStateFrame struct {
	Type    string         `json:"type"`
	State   string         `json:"state"`
	Session *types.Session `json:"session,omitempty"`
}

func (s *kioskSurface) SessionStateChanged(state string, sess *types.Session) {
	conn, ok := s.hub.registry.Get(s.kioskID)
	if !ok {
		return // kiosk offline, it will resync on reconnect
	}

	frame := sessionStateFrame{Type: "session_state", State: state, Session: sess}
	if err := conn.WriteJSON(frame); err != nil {
		s.hub.logger.Warn().Err(err).
			Str("kiosk_id", s.kioskID).
			Str("state", state).
			Msg("failed to deliver session state")
	}
}
