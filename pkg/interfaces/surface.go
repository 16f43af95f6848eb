package interfaces

import (
	"tapdeck/pkg/types"
)

// PlaybackSurface receives session lifecycle events. Implementations react
// to stopping/ended by unloading media; they never call back into quota
// logic. The only inbound event the session core listens for from a surface
// is "playback ended", delivered through the owning controller.
type PlaybackSurface interface {
	// SessionStateChanged notifies the surface of a state transition. The
	// session snapshot is read-only; nil is passed once the controller has
	// cleared its session after teardown.
	SessionStateChanged(state string, session *types.Session)
}

// Connection represents a kiosk WebSocket connection.
// FUNCTIONAL DISCOVERY: WriteJSON must be thread-safe; all implementations
// use a single-writer goroutine to serialize frames
type Connection interface {
	// WriteJSON sends a JSON event to the kiosk (thread-safe).
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources.
	Close() error

	// GetKioskID returns the kiosk identifier presented during hello.
	GetKioskID() string

	// GetProfileID returns the profile selected on this kiosk, if any.
	GetProfileID() string

	// IsRegistered reports whether the hello handshake completed.
	IsRegistered() bool
}
