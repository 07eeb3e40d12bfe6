// Package matching pairs a telephony call with the conversation-analytics
// record that most likely describes it.
//
// The analytics provider has no reference to the carrier's call id, so the
// pairing is heuristic: a candidate must have finished processing and sit
// close to the call in start time (and usually in duration). Everything here
// is pure; callers own I/O and logging.
package matching

import (
	"math"
	"strings"
	"time"
)

// Call is the subset of a call record the matcher reads.
type Call struct {
	CreatedAt       time.Time
	DurationSeconds int
}

// Candidate is one conversation reported by the analytics source.
type Candidate struct {
	ExternalID      string
	StartTime       time.Time
	DurationSeconds int
	ProviderStatus  string
}

// Result is the outcome of FindBestMatch. Matched=false means no candidate
// passed the gate.
type Result struct {
	Candidate    Candidate
	Score        float64
	TimeDiff     float64
	DurationDiff float64
	Matched      bool
	Considered   int
	Eligible     int
}

// Params holds the gate thresholds and score weights.
type Params struct {
	// TimeWindow is the outer start-time window; requires duration similarity.
	TimeWindow time.Duration
	// CloseTimeWindow waives the duration check for near-simultaneous starts.
	CloseTimeWindow time.Duration
	// DurationTolerance is the inclusive max duration difference. Zero means
	// exact durations only, except on a zero Params value where it is unset.
	DurationTolerance time.Duration
	// DurationWeight multiplies durationDiff in the score.
	DurationWeight float64
	// TerminalStatuses lists provider statuses meaning processing finished.
	TerminalStatuses []string

	toleranceSet bool
}

// DefaultParams returns the production thresholds: 300s/120s windows, 15s
// duration tolerance, duration weighted 2x.
func DefaultParams() Params {
	return Params{
		TimeWindow:        300 * time.Second,
		CloseTimeWindow:   120 * time.Second,
		DurationTolerance: 15 * time.Second,
		DurationWeight:    2,
		TerminalStatuses:  []string{"done", "completed"},
		toleranceSet:      true,
	}
}

// WithDurationTolerance returns p with an explicit tolerance, zero included.
func (p Params) WithDurationTolerance(d time.Duration) Params {
	p.DurationTolerance = d
	p.toleranceSet = true
	return p
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.TimeWindow <= 0 {
		p.TimeWindow = def.TimeWindow
	}
	if p.CloseTimeWindow <= 0 {
		p.CloseTimeWindow = def.CloseTimeWindow
	}
	if p.DurationTolerance < 0 || (p.DurationTolerance == 0 && !p.toleranceSet) {
		p.DurationTolerance = def.DurationTolerance
	}
	if p.DurationWeight <= 0 {
		p.DurationWeight = def.DurationWeight
	}
	if len(p.TerminalStatuses) == 0 {
		p.TerminalStatuses = def.TerminalStatuses
	}
	return p
}

// FindBestMatch returns the eligible candidate with the lowest score.
// Ties keep the candidate seen first.
func FindBestMatch(call Call, candidates []Candidate, params Params) Result {
	params = params.withDefaults()
	best := Result{Score: math.Inf(1), Considered: len(candidates)}
	for _, c := range candidates {
		score, timeDiff, durationDiff, ok := Evaluate(call, c, params)
		if !ok {
			continue
		}
		best.Eligible++
		if score < best.Score {
			best.Candidate = c
			best.Score = score
			best.TimeDiff = timeDiff
			best.DurationDiff = durationDiff
			best.Matched = true
		}
	}
	if !best.Matched {
		best.Score = 0
	}
	return best
}

// Evaluate applies the gate to a single candidate and scores it when it
// passes. Score is timeDiff + DurationWeight*durationDiff, lower is better.
func Evaluate(call Call, c Candidate, params Params) (score, timeDiff, durationDiff float64, ok bool) {
	params = params.withDefaults()
	if !isTerminal(c.ProviderStatus, params.TerminalStatuses) {
		return 0, 0, 0, false
	}
	timeDiff = math.Abs(call.CreatedAt.Sub(c.StartTime).Seconds())
	durationDiff = math.Abs(float64(call.DurationSeconds - c.DurationSeconds))

	closeInTime := timeDiff < params.TimeWindow.Seconds()
	veryCloseInTime := timeDiff < params.CloseTimeWindow.Seconds()
	similarDuration := durationDiff <= params.DurationTolerance.Seconds()

	if !((closeInTime && similarDuration) || veryCloseInTime) {
		return 0, timeDiff, durationDiff, false
	}
	return timeDiff + params.DurationWeight*durationDiff, timeDiff, durationDiff, true
}

func isTerminal(status string, terminal []string) bool {
	status = strings.ToLower(strings.TrimSpace(status))
	for _, t := range terminal {
		if status == t {
			return true
		}
	}
	return false
}
