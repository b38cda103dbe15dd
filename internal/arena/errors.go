package arena

import "errors"

// Sentinel errors returned by the queue and registry. Handlers map these to
// HTTP status codes; everything else is treated as an internal fault.
var (
	// ErrNotFound means the session or participant is unknown.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyQueued means the participant already waits in a different
	// bucket. A participant may search only one bucket at a time.
	ErrAlreadyQueued = errors.New("participant already queued in another bucket")

	// ErrAlreadyInSession means an active session owns the participant.
	ErrAlreadyInSession = errors.New("participant already in an active session")

	// ErrSessionFull means a third identity tried to join a session.
	ErrSessionFull = errors.New("session already has two participants")
)
