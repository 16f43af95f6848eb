package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tapdeck/pkg/interfaces"
	"tapdeck/pkg/types"
)

// Store is the authoritative quota accountant. It owns the watch_sessions
// table through the database layer and answers every start and heartbeat with
// a decision derived from persisted watched_seconds, never from kiosk-side
// counters.
type Store struct {
	db     interfaces.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewStore creates a quota store backed by the given database.
func NewStore(db interfaces.Store, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "quota").Logger(),
		now:    time.Now,
	}
}

// StartSession opens a new watch session for the video, attributed to the
// profile when one is given. Returns ErrDailyLimitReached when the profile's
// budget is already spent; the chip tap then never reaches playback.
func (s *Store) StartSession(ctx context.Context, videoID, profileID string) (*types.StartGrant, error) {
	grant := &types.StartGrant{}

	if profileID != "" {
		watched, remaining, err := s.dailyBudget(ctx, profileID)
		if err != nil {
			return nil, err
		}
		grant.WatchedMinutesToday = watched
		if remaining != nil {
			if *remaining <= 0 {
				return nil, interfaces.ErrDailyLimitReached
			}
			grant.DailyLimitRemainingMinutes = remaining
		}
	}

	now := s.now()
	session := &types.WatchSession{
		ID:         uuid.New().String(),
		VideoID:    videoID,
		ProfileID:  profileID,
		StartedAt:  now,
		LastSeenAt: now,
		Status:     "active",
	}
	if err := s.db.CreateWatchSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create watch session: %w", err)
	}

	grant.SessionID = session.ID
	s.logger.Info().
		Str("session_id", session.ID).
		Str("video_id", videoID).
		Str("profile_id", profileID).
		Msg("watch session started")

	return grant, nil
}

// Heartbeat refreshes the session's liveness and accounting and returns the
// stop/continue decision. watched_seconds is recomputed from wall-clock
// elapsed time, so a kiosk that missed heartbeats still gets charged for the
// full interval.
func (s *Store) Heartbeat(ctx context.Context, sessionID string) (*types.HeartbeatResult, error) {
	session, err := s.db.GetWatchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != "active" {
		return nil, interfaces.ErrSessionNotActive
	}

	now := s.now()
	elapsed := int(now.Sub(session.StartedAt) / time.Second)
	if elapsed > session.WatchedSeconds {
		session.WatchedSeconds = elapsed
	}
	session.LastSeenAt = now
	if err := s.db.UpdateWatchSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update watch session: %w", err)
	}

	result := &types.HeartbeatResult{}
	if session.ProfileID != "" {
		watched, remaining, err := s.dailyBudget(ctx, session.ProfileID)
		if err != nil {
			return nil, err
		}
		result.WatchedMinutesToday = watched
		if remaining != nil && *remaining <= 0 {
			result.ShouldStop = true
			result.StopReason = types.StopReasonDailyLimit
		}
	}

	return result, nil
}

// EndSession finalizes a session with the given stop reason. Ending an
// already-ended session is a no-op so retried end calls and crash-recovery
// sweeps never fail.
func (s *Store) EndSession(ctx context.Context, sessionID, stopReason string) error {
	if !types.IsValidStopReason(stopReason) {
		return fmt.Errorf("%w: %q", types.ErrInvalidStopReason, stopReason)
	}

	session, err := s.db.GetWatchSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != "active" {
		return nil
	}

	now := s.now()
	elapsed := int(now.Sub(session.StartedAt) / time.Second)
	if elapsed > session.WatchedSeconds {
		session.WatchedSeconds = elapsed
	}
	session.LastSeenAt = now
	session.Status = "ended"
	session.StopReason = stopReason
	session.EndedAt = &now
	if err := s.db.UpdateWatchSession(ctx, session); err != nil {
		return fmt.Errorf("failed to end watch session: %w", err)
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("stop_reason", stopReason).
		Int("watched_seconds", session.WatchedSeconds).
		Msg("watch session ended")

	return nil
}

// ReconcileOrphans ends every session still marked active, attributing the
// stop to a manual end. Called once at startup so sessions interrupted by a
// daemon crash do not leak watched time forever.
func (s *Store) ReconcileOrphans(ctx context.Context) (int, error) {
	orphans, err := s.db.ListActiveWatchSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active sessions: %w", err)
	}

	for _, orphan := range orphans {
		// Charge only up to the last heartbeat we saw, not the downtime.
		endedAt := orphan.LastSeenAt
		orphan.Status = "ended"
		orphan.StopReason = types.StopReasonManual
		orphan.EndedAt = &endedAt
		if err := s.db.UpdateWatchSession(ctx, orphan); err != nil {
			return 0, fmt.Errorf("failed to reconcile session %s: %w", orphan.ID, err)
		}
		s.logger.Warn().Str("session_id", orphan.ID).Msg("reconciled orphaned watch session")
	}

	return len(orphans), nil
}

// dailyBudget returns the profile's watched minutes today and, when the
// profile carries a daily limit, the remaining minutes (which may be
// negative). A nil remaining means the profile is unlimited.
func (s *Store) dailyBudget(ctx context.Context, profileID string) (int, *int, error) {
	profile, err := s.db.GetProfile(ctx, profileID)
	if err != nil {
		return 0, nil, err
	}

	seconds, err := s.db.WatchedSecondsToday(ctx, profileID)
	if err != nil {
		return 0, nil, err
	}
	watched := seconds / 60

	if profile.DailyLimitMinutes <= 0 {
		return watched, nil, nil
	}
	remaining := profile.DailyLimitMinutes - watched
	return watched, &remaining, nil
}
