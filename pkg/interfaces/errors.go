package interfaces

import "errors"

// Contract errors shared across component boundaries.
var (
	ErrChipNotFound      = errors.New("chip not mapped to any video")
	ErrVideoNotFound     = errors.New("video not found")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotActive  = errors.New("session is not active")
	ErrDailyLimitReached = errors.New("daily watch limit already reached")
)
