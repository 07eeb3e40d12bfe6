package calls

import "errors"

var (
	// ErrMissingCallID is returned when a status event carries no provider call id.
	ErrMissingCallID = errors.New("calls: missing call id")

	// ErrVoiceLineNotFound is returned when the destination number is not a configured voice line.
	ErrVoiceLineNotFound = errors.New("calls: voice line not found")

	// ErrCallNotFound is returned when no call record exists for a provider call id.
	ErrCallNotFound = errors.New("calls: call not found")
)
