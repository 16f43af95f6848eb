package interfaces

import (
	"context"

	"tapdeck/pkg/types"
)

// QuotaStore is the single source of truth for watched-minutes accounting.
// ARCHITECTURAL DISCOVERY: The kiosk never computes cumulative watched time
// on its own - it only displays what StartSession and Heartbeat return,
// which keeps enforcement authoritative even across kiosk restarts
type QuotaStore interface {
	// StartSession opens a new watch session for a video, optionally
	// attributed to a profile (empty profileID means unattributed viewing).
	// Returns ErrDailyLimitReached when the profile's budget is already
	// exhausted before any playback starts.
	StartSession(ctx context.Context, videoID, profileID string) (*types.StartGrant, error)

	// Heartbeat records liveness for an active session and returns the
	// authoritative stop/continue decision together with the profile's
	// watched minutes for the current day.
	Heartbeat(ctx context.Context, sessionID string) (*types.HeartbeatResult, error)

	// EndSession closes a session with the given stop reason. Callers treat
	// this as best-effort: a failure is logged, never escalated, and the
	// session is considered ended locally regardless.
	EndSession(ctx context.Context, sessionID, stopReason string) error
}

// ChipResolver maps a scanned chip identifier to playable content.
// Returns ErrChipNotFound for unmapped chips and ErrDailyLimitReached when
// the bound profile has no budget left for today.
type ChipResolver interface {
	ResolveChip(ctx context.Context, chipUID, profileID string) (*types.Resolution, error)
}
