package leads

import "errors"

var (
	// ErrInvalidName is returned when the name is invalid
	ErrInvalidName = errors.New("leads: name is required")

	// ErrMissingContact is returned when both email and phone are missing
	ErrMissingContact = errors.New("leads: either email or phone is required")

	// ErrMissingAccountID is returned when a lead is not scoped to an account
	ErrMissingAccountID = errors.New("leads: account id is required")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("leads: lead not found")

	// ErrEmptyNote is returned when a note has no content
	ErrEmptyNote = errors.New("leads: note content is required")
)
