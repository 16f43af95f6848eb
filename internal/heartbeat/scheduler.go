package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Default backoff parameters. A failed check multiplies the delay by the
// backoff factor up to the cap; any success resets it to the base delay.
const (
	DefaultBaseDelay     = 30 * time.Second
	DefaultMaxDelay      = 120 * time.Second
	DefaultBackoffFactor = 1.5
)

// TickFunc runs one liveness/quota check. A non-nil error (including a
// cancelled in-flight call) backs the schedule off; nil resets it.
type TickFunc func(ctx context.Context) error

// Scheduler owns a single recurring check tied to one active session.
// All scheduling state lives in this struct and every reschedule goes
// through one internal method that first stops any pending timer, so there
// is never more than one scheduled tick per scheduler.
//
// TECHNICAL DISCOVERY: Cooperative reschedule (timer set after each tick
// completes) keeps backoff delays exact and makes overlapping ticks
// impossible, unlike a fixed interval
type Scheduler struct {
	base   time.Duration
	max    time.Duration
	factor float64
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	gen     uint64 // bumped on every Start/Stop; stale timer fires check it
	delay   time.Duration
	timer   *time.Timer
	tick    TickFunc
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler. Non-positive durations and
// factors fall back to the defaults.
func NewScheduler(base, max time.Duration, factor float64, logger zerolog.Logger) *Scheduler {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}
	if factor <= 1 {
		factor = DefaultBackoffFactor
	}
	return &Scheduler{
		base:   base,
		max:    max,
		factor: factor,
		logger: logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Start begins scheduling ticks at the base delay. Calling Start while the
// scheduler is already running replaces the previous schedule: the old
// generation's pending timer and in-flight tick results are discarded.
func (s *Scheduler) Start(tick TickFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	s.gen++
	s.running = true
	s.delay = s.base
	s.tick = tick
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.logger.Debug().Dur("delay", s.delay).Msg("heartbeat schedule started")
	s.reschedule(s.gen)
}

// Stop cancels any pending timer. After Stop returns no further ticks fire
// for this scheduler, even if a tick was mid-flight: its result is discarded
// when it resolves.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.logger.Debug().Msg("heartbeat schedule stopped")
}

// Running reports whether ticks are currently scheduled.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Delay returns the delay the next tick will be scheduled at.
func (s *Scheduler) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// reschedule arms the single timer for the current delay. Caller holds mu.
// Stopping any existing timer first is what makes duplicate pending ticks
// impossible regardless of how callers interleave Start/Stop.
func (s *Scheduler) reschedule(gen uint64) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.fire(gen)
	})
}

// fire runs one tick for the given generation and reschedules if the
// scheduler is still running that generation afterwards.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.gen {
		s.mu.Unlock()
		return
	}
	tick := s.tick
	ctx := s.ctx
	s.mu.Unlock()

	err := tick(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The session may have been stopped while the tick was in flight; its
	// result no longer matters and must not re-arm the timer.
	if !s.running || gen != s.gen {
		return
	}

	s.advance(err == nil)
	if err != nil {
		s.logger.Warn().Err(err).Dur("next_delay", s.delay).Msg("heartbeat check failed, backing off")
	}
	s.reschedule(gen)
}

// advance updates the delay after one tick outcome: reset to base on
// success, multiply by the backoff factor and clamp to max on failure.
// Caller holds mu.
func (s *Scheduler) advance(success bool) {
	if success {
		s.delay = s.base
		return
	}
	next := time.Duration(float64(s.delay) * s.factor)
	if next > s.max {
		next = s.max
	}
	s.delay = next
}
