package engine

import "errors"

// Engine errors. Every failure attributable to a single connection or
// message stays local to it; none of these tear down a session or the
// server.
var (
	// Admission errors

	ErrBadPayload    = errors.New("invalid session payload")
	ErrMissingClaim  = errors.New("token is missing a required claim")
	ErrPlayerBusy    = errors.New("player already has a live session")
	ErrNotPermitted  = errors.New("player is not permitted in session")
	ErrSessionEnded  = errors.New("session has ended")
	ErrUnknownPlayer = errors.New("no session for bound player")

	// Update errors

	ErrBadUpdate = errors.New("invalid player update")

	// Lifecycle errors

	ErrQueueClosed    = errors.New("action queue is closed")
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server is not running")
)
