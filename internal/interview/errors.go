package interview

import "errors"

// Sentinel errors for the turn protocol. The HTTP and MCP layers map these
// onto their own error codes.
var (
	// ErrSessionNotFound is returned when no session exists for the id.
	ErrSessionNotFound = errors.New("interview: session not found")

	// ErrForbidden is returned when the caller does not own the session.
	ErrForbidden = errors.New("interview: caller does not own session")

	// ErrAlreadyStarted is returned when start is requested on a session
	// whose first question was already issued.
	ErrAlreadyStarted = errors.New("interview: session already started")

	// ErrNotStarted is returned when an answer arrives before start.
	ErrNotStarted = errors.New("interview: session not started")

	// ErrSessionComplete is returned when a turn is requested on a
	// completed session.
	ErrSessionComplete = errors.New("interview: session already complete")

	// ErrTurnInProgress is returned when a turn request arrives while
	// another turn on the same session is still executing. Turns on one
	// session are strictly sequential.
	ErrTurnInProgress = errors.New("interview: another turn is in progress")

	// ErrNotTechnical is returned when coding problems are requested for a
	// non-technical session.
	ErrNotTechnical = errors.New("interview: session is not a technical interview")

	// ErrUpstreamGeneration wraps language-generation failures. The turn
	// fails entirely; no partial grading or competency update is committed
	// from the failed stage.
	ErrUpstreamGeneration = errors.New("interview: language generation failed")
)
