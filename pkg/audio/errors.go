package audio

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrClosed is returned by Enqueue after the player is closed.
	ErrClosed = errors.New("audio: player closed")

	// ErrStopTimeout is returned by Stop when the session did not release
	// its output within Config.StopTimeout.
	ErrStopTimeout = errors.New("audio: stop timed out")

	// ErrSinkStalled is returned when the output accepts nothing for
	// Config.MaxStalledWrites consecutive attempts.
	ErrSinkStalled = errors.New("audio: sink stalled")
)

// SessionError is a fatal error that ended a playback session.
type SessionError struct {
	// SessionID identifies the failed session.
	SessionID string

	// Stage is where the failure occurred ("open", "write", "drain").
	Stage string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	return fmt.Sprintf("audio [%s]: %s: %v", e.SessionID, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *SessionError) Unwrap() error {
	return e.Err
}
