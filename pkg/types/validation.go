package types

import (
	"regexp"
)

// Regexes compiled once at package initialization; chip scans arrive at
// kiosk tap frequency so validation sits on a hot path.
var (
	chipUIDRegex = regexp.MustCompile(`^[0-9a-fA-F]{8,20}$`)
	idRegex      = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// legalTransitions encodes the session lifecycle exactly:
// idle -> starting -> active -> stopping -> ended, with ended terminal.
// Any state may jump to ended on teardown (unmount/process exit).
var legalTransitions = map[string][]string{
	StateIdle:     {StateStarting, StateEnded},
	StateStarting: {StateActive, StateIdle, StateEnded},
	StateActive:   {StateStopping, StateEnded},
	StateStopping: {StateEnded},
	StateEnded:    {},
}

// IsValidState reports whether s names a known session state.
func IsValidState(s string) bool {
	_, ok := legalTransitions[s]
	return ok
}

// CanTransition reports whether moving from one session state to another is
// legal. Ended has no outgoing transitions.
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidChipUID checks the hex-UID format produced by NFC tag reads.
// FUNCTIONAL DISCOVERY: NTAG/Mifare UIDs serialize to 8-20 hex characters;
// anything else is a reader glitch and must be rejected before resolution
func IsValidChipUID(uid string) bool {
	return chipUIDRegex.MatchString(uid)
}

// IsValidProfileID checks if a profile ID meets format requirements.
func IsValidProfileID(profileID string) bool {
	if len(profileID) < 1 || len(profileID) > 50 {
		return false
	}
	return idRegex.MatchString(profileID)
}

// IsValidKioskID checks if a kiosk ID meets format requirements.
func IsValidKioskID(kioskID string) bool {
	if len(kioskID) < 1 || len(kioskID) > 50 {
		return false
	}
	return idRegex.MatchString(kioskID)
}

// IsValidVideoID checks if a video ID meets format requirements.
func IsValidVideoID(videoID string) bool {
	if len(videoID) < 1 || len(videoID) > 50 {
		return false
	}
	return idRegex.MatchString(videoID)
}

// IsValidStopReason checks if the stop reason is one of the allowed values.
func IsValidStopReason(reason string) bool {
	switch reason {
	case StopReasonManual, StopReasonDailyLimit, StopReasonVideoLimit:
		return true
	default:
		return false
	}
}

// IsValidPlatform checks if the platform is one of the supported sources.
func IsValidPlatform(platform string) bool {
	switch platform {
	case PlatformYouTube, PlatformVimeo, PlatformDailymotion, PlatformFile:
		return true
	default:
		return false
	}
}

// Validate ensures a chip mapping meets all requirements before it is used
// for resolution.
func (c *Chip) Validate() error {
	if !IsValidChipUID(c.UID) {
		return ErrInvalidChipUID
	}
	if !IsValidVideoID(c.VideoID) {
		return ErrInvalidVideoID
	}
	if c.ProfileID != "" && !IsValidProfileID(c.ProfileID) {
		return ErrInvalidProfileID
	}
	return nil
}

// Validate ensures a video row is playable.
func (v *Video) Validate() error {
	if !IsValidVideoID(v.ID) {
		return ErrInvalidVideoID
	}
	if !IsValidPlatform(v.Platform) {
		return ErrInvalidPlatform
	}
	return nil
}
