package types

import (
	"time"
)

// SessionState identifies where a watch session is in its lifecycle.
// State transitions never skip a state and SessionEnded is terminal.
const (
	StateIdle     = "idle"
	StateStarting = "starting"
	StateActive   = "active"
	StateStopping = "stopping"
	StateEnded    = "ended"
)

// Stop reasons recorded when a session leaves the active state.
// FUNCTIONAL DISCOVERY: daily_limit takes precedence over video_limit when
// both conditions hold, because it drives different parent-facing UI copy
const (
	StopReasonManual     = "manual"
	StopReasonDailyLimit = "daily_limit"
	StopReasonVideoLimit = "video_limit"
)

// Video platforms supported by the library. Metadata fetching happens in the
// admin app; the daemon only plays back what the library rows describe.
const (
	PlatformYouTube     = "youtube"
	PlatformVimeo       = "vimeo"
	PlatformDailymotion = "dailymotion"
	PlatformFile        = "file"
)

// Session represents one continuous watch attempt on a kiosk.
// SessionID and VideoID are immutable once assigned; WatchedMinutesToday is
// refreshed by each heartbeat response and is monotonically non-decreasing
// while the session is active.
type Session struct {
	SessionID           string    `json:"session_id"`
	VideoID             string    `json:"video_id"`
	ProfileID           string    `json:"profile_id,omitempty"` // empty = unattributed viewing
	StartedAt           time.Time `json:"started_at"`
	PerVideoCapMinutes  int       `json:"per_video_cap_minutes,omitempty"` // 0 = no cap
	WatchedMinutesToday int       `json:"watched_minutes_today"`
	DailyLimitRemaining *int      `json:"daily_limit_remaining_minutes,omitempty"` // nil = unlimited
	State               string    `json:"state"`
	StopReason          string    `json:"stop_reason,omitempty"`
}

// StartGrant is the quota store's answer to a session start request.
// WatchedMinutesToday reflects the profile's counter at grant time so the
// kiosk can derive a remaining-minutes display without its own accounting.
type StartGrant struct {
	SessionID                  string `json:"session_id"`
	DailyLimitRemainingMinutes *int   `json:"daily_limit_remaining_minutes"` // nil when no profile is bound
	WatchedMinutesToday        int    `json:"watched_minutes_today"`
}

// HeartbeatResult carries the authoritative stop/continue decision for an
// active session together with the watched-minutes counter it is based on.
type HeartbeatResult struct {
	ShouldStop          bool   `json:"should_stop"`
	StopReason          string `json:"stop_reason,omitempty"`
	WatchedMinutesToday int    `json:"watched_minutes_today"`
}

// Resolution is the result of mapping a scanned chip to playable content.
type Resolution struct {
	Video              *Video `json:"video"`
	ProfileID          string `json:"profile_id,omitempty"`
	PerVideoCapMinutes int    `json:"per_video_cap_minutes,omitempty"`
}

// Video is a library entry curated by a parent.
type Video struct {
	ID              string    `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Platform        string    `json:"platform" db:"platform"`
	PlatformRef     string    `json:"platform_ref" db:"platform_ref"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Profile is a child profile with a daily watch-time budget.
// DailyLimitMinutes of 0 means the profile has no daily budget.
type Profile struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	DailyLimitMinutes int       `json:"daily_limit_minutes" db:"daily_limit_minutes"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// Chip binds a physical NFC tag to a video, optionally to a profile and an
// optional per-session cap specific to this mapping.
type Chip struct {
	UID        string    `json:"uid" db:"uid"`
	VideoID    string    `json:"video_id" db:"video_id"`
	ProfileID  string    `json:"profile_id,omitempty" db:"profile_id"`
	CapMinutes int       `json:"cap_minutes,omitempty" db:"cap_minutes"`
	Label      string    `json:"label" db:"label"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// WatchSession is the persisted form of a session as the quota store sees it.
// watched_seconds is the single source of truth for quota accounting; the
// kiosk never computes cumulative watched time on its own.
type WatchSession struct {
	ID             string     `json:"id" db:"id"`
	VideoID        string     `json:"video_id" db:"video_id"`
	ProfileID      string     `json:"profile_id,omitempty" db:"profile_id"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	LastSeenAt     time.Time  `json:"last_seen_at" db:"last_seen_at"`
	WatchedSeconds int        `json:"watched_seconds" db:"watched_seconds"`
	Status         string     `json:"status" db:"status"` // "active" or "ended"
	StopReason     string     `json:"stop_reason,omitempty" db:"stop_reason"`
	EndedAt        *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}
