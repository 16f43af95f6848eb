package requests

import (
	"context"
	"sync"
)

// Well-known operation keys used by the session core. Keys are plain strings
// so callers can introduce their own, but collisions are the mechanism that
// makes superseding work: a rescan cancels the previous scan because both
// use KeyScan.
const (
	KeyScan         = "nfcScan"
	KeyStartSession = "startSession"
	KeyHeartbeat    = "heartbeat"
	KeyEndSession   = "endSession"
)

// Manager guarantees at most one live cancellable operation per logical key.
// Acquiring a key cancels whatever operation previously held it, so a stale
// in-flight call can never deliver results after it has been superseded.
//
// ARCHITECTURAL DISCOVERY: Managers are lifetime-scoped and injected into
// their owning controller, never shared process-wide - per-session isolation
// stays explicit and testable
type Manager struct {
	mu    sync.Mutex
	slots map[string]*Handle
}

// Handle is the cancellation-capable token for one operation under one key.
// Cancellation is sticky to the handle instance, never to the key: a fresh
// Acquire after Cancel returns a handle that reports not cancelled.
type Handle struct {
	key    string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		slots: make(map[string]*Handle),
	}
}

// Acquire cancels any live handle for key, then installs and returns a fresh
// one. The old handle's cancellation is observable before the new handle
// becomes the registry's value for the key. Never fails.
func (m *Manager) Acquire(key string) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, exists := m.slots[key]; exists {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{key: key, ctx: ctx, cancel: cancel}
	m.slots[key] = h
	return h
}

// Cancel cancels and removes the handle for key. Calling it for a key with
// no live handle is a no-op, not an error.
func (m *Manager) Cancel(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, exists := m.slots[key]; exists {
		h.cancel()
		delete(m.slots, key)
	}
}

// CancelAll cancels and removes every registered handle. Safe on an empty
// registry. Invoked first on every teardown path so no in-flight call can
// mutate state afterwards.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, h := range m.slots {
		h.cancel()
		delete(m.slots, key)
	}
}

// Release removes h from the registry if it is still the current holder of
// its key, releasing the context's resources. A handle that was already
// superseded leaves the newer handle untouched. Releasing cancels the
// handle's context, so callers must read Cancelled before Release when they
// need to tell supersession apart from normal completion.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.slots[h.key]; exists && current == h {
		delete(m.slots, h.key)
	}
	h.cancel()
}

// Len returns the number of live handles, for stats and tests.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// Context returns the handle's context. Calls issued under this handle pass
// it down so superseding the handle aborts them mid-flight.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Cancelled reports whether this handle has been superseded or cancelled.
// Callers must check it before applying a call's result: a response that
// races past its own cancellation is discarded, not treated as a failure.
func (h *Handle) Cancelled() bool {
	return h.ctx.Err() != nil
}

// Done exposes the cancellation signal for select loops.
func (h *Handle) Done() <-chan struct{} {
	return h.ctx.Done()
}

// Key returns the logical operation key the handle was acquired under.
func (h *Handle) Key() string {
	return h.key
}
