package requests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_ReplacesAndCancelsPrevious(t *testing.T) {
	m := NewManager()

	first := m.Acquire(KeyHeartbeat)
	require.False(t, first.Cancelled())

	second := m.Acquire(KeyHeartbeat)

	// Exactly one live handle per key: the first observed cancellation, the
	// replacement did not.
	assert.True(t, first.Cancelled())
	assert.False(t, second.Cancelled())
	assert.Equal(t, 1, m.Len())
}

func TestAcquire_CancellationObservableBeforeReplacement(t *testing.T) {
	m := NewManager()

	first := m.Acquire(KeyScan)

	done := make(chan struct{})
	go func() {
		<-first.Done()
		close(done)
	}()

	m.Acquire(KeyScan)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("superseded handle never observed cancellation")
	}
}

func TestCancel_MissingKeyIsNoOp(t *testing.T) {
	m := NewManager()
	m.Cancel("never-acquired") // must not panic or error
	assert.Equal(t, 0, m.Len())
}

func TestCancel_RemovesHandle(t *testing.T) {
	m := NewManager()
	h := m.Acquire(KeyStartSession)

	m.Cancel(KeyStartSession)

	assert.True(t, h.Cancelled())
	assert.Equal(t, 0, m.Len())
}

func TestCancellationNotStickyToKey(t *testing.T) {
	m := NewManager()

	m.Acquire(KeyEndSession)
	m.Cancel(KeyEndSession)

	fresh := m.Acquire(KeyEndSession)
	assert.False(t, fresh.Cancelled(), "cancellation must stick to the handle instance, not the key")

	m.CancelAll()
	again := m.Acquire(KeyEndSession)
	assert.False(t, again.Cancelled())
}

func TestCancelAll_EmptyAndPopulated(t *testing.T) {
	m := NewManager()
	m.CancelAll() // safe when empty

	h1 := m.Acquire(KeyScan)
	h2 := m.Acquire(KeyHeartbeat)
	h3 := m.Acquire(KeyStartSession)

	m.CancelAll()

	assert.True(t, h1.Cancelled())
	assert.True(t, h2.Cancelled())
	assert.True(t, h3.Cancelled())
	assert.Equal(t, 0, m.Len())
}

func TestRelease_OnlyRemovesCurrentHolder(t *testing.T) {
	m := NewManager()

	old := m.Acquire(KeyHeartbeat)
	current := m.Acquire(KeyHeartbeat)

	// Releasing the superseded handle must not evict the current one.
	m.Release(old)
	assert.Equal(t, 1, m.Len())
	assert.False(t, current.Cancelled())

	m.Release(current)
	assert.Equal(t, 0, m.Len())
}

func TestRelease_CancelsHandleContext(t *testing.T) {
	m := NewManager()

	h := m.Acquire(KeyScan)
	superseded := h.Cancelled()
	m.Release(h)

	// Release frees the context, so Cancelled flips true afterwards. The
	// supersession decision therefore has to be captured beforehand - a
	// completed, never-superseded call reads false at that point.
	assert.False(t, superseded)
	assert.True(t, h.Cancelled())
}

func TestHandleContext_AbortsInFlightWork(t *testing.T) {
	m := NewManager()
	h := m.Acquire(KeyScan)

	result := make(chan error, 1)
	go func() {
		// Simulates a network call that honors context cancellation.
		select {
		case <-h.Context().Done():
			result <- h.Context().Err()
		case <-time.After(5 * time.Second):
			result <- nil
		}
	}()

	m.Acquire(KeyScan) // supersede

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("in-flight call did not observe cancellation")
	}
}

func TestStaleResultDiscard(t *testing.T) {
	m := NewManager()

	var watched int
	apply := func(h *Handle, minutes int) {
		// The pattern every caller follows: check the handle before applying.
		if h.Cancelled() {
			return
		}
		watched = minutes
	}

	stale := m.Acquire(KeyHeartbeat)
	fresh := m.Acquire(KeyHeartbeat)

	apply(stale, 99) // resolves after being superseded: discarded
	apply(fresh, 5)

	assert.Equal(t, 5, watched)
}

func TestConcurrentAcquire_SingleSurvivor(t *testing.T) {
	m := NewManager()

	const goroutines = 32
	handles := make([]*Handle, goroutines)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			handles[i] = m.Acquire(KeyHeartbeat)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, m.Len())

	live := 0
	for _, h := range handles {
		if !h.Cancelled() {
			live++
		}
	}
	assert.Equal(t, 1, live, "exactly one handle must survive concurrent acquisition")
}
