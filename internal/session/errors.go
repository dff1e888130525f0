package session

import (
	"errors"
	"fmt"

	"github.com/fincraft/ledgerform/internal/validation"
)

var (
	// ErrSessionNotFound is returned for unknown, expired, or closed sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCommitInFlight is returned when a commit arrives while an earlier
	// commit on the same session is still pending.
	ErrCommitInFlight = errors.New("commit already in flight")
)

// StaleRecordError signals that the session's record was deleted by another
// actor after the session loaded it. The session is closed when this is
// returned; the caller starts over from a fresh load.
type StaleRecordError struct {
	RecordID string
}

func (e *StaleRecordError) Error() string {
	return fmt.Sprintf("record %s no longer exists", e.RecordID)
}

// ValidationFailedError carries the field errors that blocked a commit.
type ValidationFailedError struct {
	Errors []validation.ValidationError
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("validation failed with %d field error(s)", len(e.Errors))
}
