package types

import "errors"

// Validation error types shared across components.
var (
	ErrInvalidChipUID    = errors.New("chip UID must be 8-20 hex characters")
	ErrInvalidProfileID  = errors.New("profile ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidVideoID    = errors.New("video ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidPlatform   = errors.New("platform must be youtube, vimeo, dailymotion or file")
	ErrInvalidStopReason = errors.New("stop reason must be manual, daily_limit or video_limit")
	ErrInvalidState      = errors.New("unknown session state")
	ErrInvalidTransition = errors.New("illegal session state transition")
)
