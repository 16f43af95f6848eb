package session

import "errors"

// Controller error taxonomy. Only resolution and start-rejection errors are
// meant for the user-facing layer; transport and end failures stay internal.
var (
	ErrScanResolutionFailed = errors.New("chip scan could not be resolved")
	ErrSessionStartRejected = errors.New("session start rejected")
	ErrSessionTransport     = errors.New("session transport failure")
	ErrScanSuperseded       = errors.New("scan superseded by a newer scan")
	ErrControllerClosed     = errors.New("session controller is closed")
	ErrInvalidStopReason    = errors.New("invalid stop reason")
)
