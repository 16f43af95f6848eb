package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tapdeck/internal/heartbeat"
	"tapdeck/internal/requests"
	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

// endCallTimeout bounds the detached best-effort end notification issued on
// teardown paths. It exists so the goroutine cannot leak, not to make the
// call reliable - the quota store reconciles from its own timestamps.
const endCallTimeout = 5 * time.Second

// Controller owns the watch-session state machine for one kiosk:
// resolve scan -> start session -> heartbeat loop -> end session.
//
// Exactly one Controller owns a given session. The heartbeat scheduler holds
// a non-owning tick callback: it may trigger a stop but never mutates
// session identity. All network-shaped calls go through the injected
// request manager so a superseding call cancels the stale one instead of
// producing out-of-order state.
type Controller struct {
	resolver  interfaces.ChipResolver
	quota     interfaces.QuotaStore
	requests  *requests.Manager
	scheduler *heartbeat.Scheduler
	surface   interfaces.PlaybackSurface // may be nil
	logger    zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	closed     bool
	state      string
	session    *types.Session
	dailyLimit *int // profile's total budget, derived from the start grant
}

// NewController creates an idle controller. The request manager is
// lifetime-scoped to this controller: it is torn down with it and never
// shared with another controller.
func NewController(
	resolver interfaces.ChipResolver,
	quota interfaces.QuotaStore,
	reqs *requests.Manager,
	scheduler *heartbeat.Scheduler,
	surface interfaces.PlaybackSurface,
	logger zerolog.Logger,
) *Controller {
	return &Controller{
		resolver:  resolver,
		quota:     quota,
		requests:  reqs,
		scheduler: scheduler,
		surface:   surface,
		logger:    logger.With().Str("component", "session").Logger(),
		now:       time.Now,
		state:     types.StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns a snapshot of the active session, or nil when idle.
func (c *Controller) Current() *types.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Scan drives one chip scan through resolution and session start. On success
// the controller is Active and the heartbeat loop is running. A scan issued
// while a previous scan is still in flight supersedes it: the older call is
// cancelled and returns ErrScanSuperseded. A scan while a session is active
// first ends that session with a manual stop.
func (c *Controller) Scan(ctx context.Context, chipUID, profileID string) (*types.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	active := c.state == types.StateActive
	c.mu.Unlock()

	// A chip tap during playback means "play this instead".
	if active {
		c.stop(types.StopReasonManual)
	}

	// Resolution happens before any state transition; an unmapped chip must
	// leave the controller exactly as it was.
	// Supersession must be read before Release: releasing frees the handle's
	// context, which is indistinguishable from cancellation afterwards.
	scanHandle := c.requests.Acquire(requests.KeyScan)
	resolution, err := c.resolver.ResolveChip(scanHandle.Context(), chipUID, profileID)
	superseded := scanHandle.Cancelled()
	c.requests.Release(scanHandle)
	if superseded {
		return nil, ErrScanSuperseded
	}
	if err != nil {
		return nil, classifyResolutionError(err)
	}

	c.setState(types.StateStarting)

	startHandle := c.requests.Acquire(requests.KeyStartSession)
	grant, err := c.quota.StartSession(startHandle.Context(), resolution.Video.ID, resolution.ProfileID)
	superseded = startHandle.Cancelled()
	c.requests.Release(startHandle)
	if superseded {
		// A newer scan owns the state machine now; do not touch state.
		return nil, ErrScanSuperseded
	}
	if err != nil {
		c.setState(types.StateIdle)
		return nil, classifyStartError(err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	c.session = &types.Session{
		SessionID:           grant.SessionID,
		VideoID:             resolution.Video.ID,
		ProfileID:           resolution.ProfileID,
		StartedAt:           c.now(),
		PerVideoCapMinutes:  resolution.PerVideoCapMinutes,
		WatchedMinutesToday: grant.WatchedMinutesToday,
		DailyLimitRemaining: grant.DailyLimitRemainingMinutes,
		State:               types.StateActive,
	}
	if grant.DailyLimitRemainingMinutes != nil {
		limit := *grant.DailyLimitRemainingMinutes + grant.WatchedMinutesToday
		c.dailyLimit = &limit
	} else {
		c.dailyLimit = nil
	}
	c.state = types.StateActive
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info().
		Str("session_id", grant.SessionID).
		Str("video_id", resolution.Video.ID).
		Str("profile_id", resolution.ProfileID).
		Msg("session started")

	c.notify(types.StateActive, snapshot)
	c.scheduler.Start(c.tick)

	return snapshot, nil
}

// Stop ends the active session with the given reason. Stopping a controller
// that is not active is a no-op.
func (c *Controller) Stop(reason string) error {
	if !types.IsValidStopReason(reason) {
		return fmt.Errorf("%w: %q", ErrInvalidStopReason, reason)
	}
	c.stop(reason)
	return nil
}

// PlaybackEnded handles the surface's natural-end event; it is treated
// identically to an explicit stop.
func (c *Controller) PlaybackEnded() {
	c.stop(types.StopReasonManual)
}

// Close tears the controller down (kiosk disconnect, daemon shutdown).
// CancelAll runs before any other cleanup so no in-flight call can mutate
// state afterwards; the end notification for a still-active session is
// fired detached and never blocks teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sess := c.session
	c.session = nil
	c.state = types.StateEnded
	c.mu.Unlock()

	c.requests.CancelAll()
	c.scheduler.Stop()

	if sess != nil && sess.State == types.StateActive {
		id := sess.SessionID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), endCallTimeout)
			defer cancel()
			if err := c.quota.EndSession(ctx, id, types.StopReasonManual); err != nil {
				c.logger.Warn().Err(err).Str("session_id", id).Msg("best-effort end on teardown failed")
			}
		}()
	}

	c.notify(types.StateEnded, nil)
	c.logger.Info().Msg("session controller closed")
}

// tick runs one quota check for the active session. A transport failure is
// returned to the scheduler for backoff and never stops playback; only a
// successful check can produce a stop signal.
func (c *Controller) tick(ctx context.Context) error {
	c.mu.Lock()
	if c.state != types.StateActive || c.session == nil {
		c.mu.Unlock()
		return nil
	}
	sessionID := c.session.SessionID
	c.mu.Unlock()

	handle := c.requests.Acquire(requests.KeyHeartbeat)
	result, err := c.quota.Heartbeat(handle.Context(), sessionID)
	superseded := handle.Cancelled()
	c.requests.Release(handle)

	// A superseded heartbeat is discarded wholesale: its result, success or
	// failure, must not touch watched-minutes or trigger a stop.
	if superseded {
		return context.Canceled
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionTransport, err)
	}

	c.mu.Lock()
	if c.state != types.StateActive || c.session == nil || c.session.SessionID != sessionID {
		c.mu.Unlock()
		return nil
	}

	// Watched minutes are monotonically non-decreasing while active; an
	// out-of-order response can only be equal or behind, never ahead.
	if result.WatchedMinutesToday > c.session.WatchedMinutesToday {
		c.session.WatchedMinutesToday = result.WatchedMinutesToday
	}
	if c.dailyLimit != nil {
		remaining := *c.dailyLimit - c.session.WatchedMinutesToday
		if remaining < 0 {
			remaining = 0
		}
		c.session.DailyLimitRemaining = &remaining
	}

	stopReason := c.stopReasonLocked(result)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	if stopReason != "" {
		c.stop(stopReason)
		return nil
	}

	c.notify(types.StateActive, snapshot)
	return nil
}

// stopReasonLocked evaluates the quota-check policy: stop when the daily
// budget is exhausted or, if a per-video cap is set, when the session has
// run past it. The daily limit takes precedence in the reported reason when
// both hold. Caller holds mu.
func (c *Controller) stopReasonLocked(result *types.HeartbeatResult) string {
	dailyExhausted := result.ShouldStop &&
		(result.StopReason == types.StopReasonDailyLimit || result.StopReason == "")
	if c.dailyLimit != nil && c.session.WatchedMinutesToday >= *c.dailyLimit {
		dailyExhausted = true
	}
	if dailyExhausted {
		return types.StopReasonDailyLimit
	}

	if cap := c.session.PerVideoCapMinutes; cap > 0 {
		elapsed := c.now().Sub(c.session.StartedAt)
		if elapsed >= time.Duration(cap)*time.Minute {
			return types.StopReasonVideoLimit
		}
	}

	if result.ShouldStop {
		return result.StopReason
	}
	return ""
}

// stop drives Active -> Stopping -> Ended. The end call is best-effort: a
// failure is logged and the session is still considered ended locally - the
// quota store remains the authority on watched-time accounting and
// reconciles from its own heartbeat timestamps.
func (c *Controller) stop(reason string) {
	c.mu.Lock()
	if c.state != types.StateActive || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.state = types.StateStopping
	c.session.State = types.StateStopping
	c.session.StopReason = reason
	sessionID := c.session.SessionID
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.scheduler.Stop()
	c.notify(types.StateStopping, snapshot)

	handle := c.requests.Acquire(requests.KeyEndSession)
	if err := c.quota.EndSession(handle.Context(), sessionID, reason); err != nil {
		// SessionEndFailed: logged, non-fatal.
		c.logger.Warn().Err(err).Str("session_id", sessionID).Str("reason", reason).Msg("end session call failed")
	}
	c.requests.Release(handle)

	c.mu.Lock()
	if c.closed {
		// Close won the race mid-stop; it already cleared the session.
		c.mu.Unlock()
		return
	}
	c.state = types.StateEnded
	c.session.State = types.StateEnded
	final := c.snapshotLocked()
	c.session = nil
	c.dailyLimit = nil
	c.mu.Unlock()

	c.logger.Info().Str("session_id", sessionID).Str("reason", reason).Msg("session ended")
	c.notify(types.StateEnded, final)

	// Back to the scanner view: the controller is ready for the next chip.
	c.setState(types.StateIdle)
}

// setState transitions the controller state and notifies the surface.
func (c *Controller) setState(state string) {
	c.mu.Lock()
	if c.closed || c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	if c.session != nil {
		c.session.State = state
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(state, snapshot)
}

// snapshotLocked copies the session for listeners. Caller holds mu.
func (c *Controller) snapshotLocked() *types.Session {
	if c.session == nil {
		return nil
	}
	copied := *c.session
	if c.session.DailyLimitRemaining != nil {
		remaining := *c.session.DailyLimitRemaining
		copied.DailyLimitRemaining = &remaining
	}
	return &copied
}

// notify delivers a state-change event to the playback surface. Surfaces
// react to stopping/ended by unloading media and never call back into quota
// logic, so delivery happens outside the controller lock.
func (c *Controller) notify(state string, session *types.Session) {
	if c.surface == nil {
		return
	}
	c.surface.SessionStateChanged(state, session)
}

func classifyResolutionError(err error) error {
	switch {
	case errors.Is(err, interfaces.ErrDailyLimitReached):
		return fmt.Errorf("%w: %w", ErrSessionStartRejected, interfaces.ErrDailyLimitReached)
	case errors.Is(err, interfaces.ErrChipNotFound), errors.Is(err, interfaces.ErrVideoNotFound):
		return fmt.Errorf("%w: %w", ErrScanResolutionFailed, err)
	case errors.Is(err, context.Canceled):
		return ErrScanSuperseded
	default:
		return fmt.Errorf("%w: %v", ErrSessionTransport, err)
	}
}

func classifyStartError(err error) error {
	switch {
	case errors.Is(err, interfaces.ErrDailyLimitReached):
		return fmt.Errorf("%w: %w", ErrSessionStartRejected, interfaces.ErrDailyLimitReached)
	case errors.Is(err, interfaces.ErrVideoNotFound), errors.Is(err, interfaces.ErrProfileNotFound):
		return fmt.Errorf("%w: %w", ErrSessionStartRejected, err)
	case errors.Is(err, context.Canceled):
		return ErrScanSuperseded
	default:
		return fmt.Errorf("%w: %v", ErrSessionTransport, err)
	}
}
