package kiosk

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry tracks one live connection per kiosk.
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic -
// the hub decides what happens to a kiosk's session, the registry only knows
// which socket is current
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection // kioskID -> Connection
	logger      zerolog.Logger
}

// NewRegistry creates a new connection registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		logger:      logger.With().Str("component", "kiosk-registry").Logger(),
	}
}

// Register installs the connection as the current one for its kiosk.
// A kiosk that reconnects replaces its previous socket; the old one is closed
// asynchronously to avoid deadlocking against its own cleanup path.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsRegistered() {
		return ErrConnectionNotRegistered
	}

	kioskID := conn.GetKioskID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connections[kioskID]; ok {
		r.logger.Info().Str("kiosk_id", kioskID).Msg("replacing existing kiosk connection")
		go func() {
			if err := existing.Close(); err != nil {
				r.logger.Warn().Err(err).Str("kiosk_id", kioskID).Msg("failed to close replaced connection")
			}
		}()
	}

	r.connections[kioskID] = conn
	return nil
}

// Unregister removes the connection if it is still the current one for its
// kiosk and reports whether it was. A replaced socket unregistering late must
// not evict its successor, and its cleanup path uses the false return to know
// the kiosk itself is still attached.
func (r *Registry) Unregister(conn *Connection) bool {
	if conn == nil {
		return false
	}

	kioskID := conn.GetKioskID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.connections[kioskID]; ok && current == conn {
		delete(r.connections, kioskID)
		return true
	}
	return false
}

// Get returns the current connection for a kiosk.
func (r *Registry) Get(kioskID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[kioskID]
	return conn, ok
}

// Count returns the number of connected kiosks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CloseAll closes every registered connection. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.connections = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
