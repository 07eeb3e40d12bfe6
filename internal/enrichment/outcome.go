// Package enrichment matches completed calls to analytics conversations and
// attaches transcript, recording and payload data to them exactly once.
package enrichment

import "errors"

// Outcome is the result of one enrichment attempt.
type Outcome string

const (
	OutcomeApplied         Outcome = "applied"
	OutcomeAlreadyEnriched Outcome = "already_enriched"
	OutcomeNotFound        Outcome = "not_found"
	OutcomeNoMatch         Outcome = "no_match"
)

// Terminal reports whether retrying can no longer change the result.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeApplied, OutcomeAlreadyEnriched, OutcomeNotFound:
		return true
	default:
		return false
	}
}

var (
	// ErrExhausted is returned by Schedule for calls that already used every attempt.
	ErrExhausted = errors.New("enrichment: retries exhausted for call")
	// ErrSchedulerClosed is returned by Schedule after Shutdown.
	ErrSchedulerClosed = errors.New("enrichment: scheduler closed")
	// ErrMissingCallID is returned when Schedule is given a blank call id.
	ErrMissingCallID = errors.New("enrichment: call id is required")
)
