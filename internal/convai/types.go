package convai

import (
	"encoding/json"
	"strings"
	"time"
)

// ConversationSummary is one entry of the conversation list endpoint.
type ConversationSummary struct {
	AgentID           string `json:"agent_id"`
	ConversationID    string `json:"conversation_id"`
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
	CallDurationSecs  int    `json:"call_duration_secs"`
	Status            string `json:"status"`
}

// StartTime converts the unix start time to UTC.
func (s ConversationSummary) StartTime() time.Time {
	return time.Unix(s.StartTimeUnixSecs, 0).UTC()
}

type listResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	HasMore       bool                  `json:"has_more"`
	NextCursor    string                `json:"next_cursor"`
}

// TranscriptTurn is one utterance in a conversation.
type TranscriptTurn struct {
	Role           string   `json:"role"`
	Message        string   `json:"message"`
	TimeInCallSecs *float64 `json:"time_in_call_secs"`
}

// Metadata carries the fields read from the provider's metadata block.
type Metadata struct {
	StartTimeUnixSecs int64  `json:"start_time_unix_secs"`
	CallDurationSecs  int    `json:"call_duration_secs"`
	CustomerName      string `json:"customer_name"`
	Purpose           string `json:"purpose"`
}

// Analysis carries the fields read from the provider's post-call analysis.
type Analysis struct {
	Summary           string `json:"summary"`
	TranscriptSummary string `json:"transcript_summary"`
	CallPurpose       string `json:"call_purpose"`
	CallerName        string `json:"caller_name"`
}

// ConversationDetail is the full record for one conversation. Raw keeps the
// exact response body so it can be stored without loss.
type ConversationDetail struct {
	ConversationID string           `json:"conversation_id"`
	AgentID        string           `json:"agent_id"`
	Status         string           `json:"status"`
	HasAudio       bool             `json:"has_audio"`
	Transcript     []TranscriptTurn `json:"transcript"`
	Metadata       Metadata         `json:"metadata"`
	Analysis       Analysis         `json:"analysis"`
	Summary        string           `json:"summary"`

	Raw json.RawMessage `json:"-"`
}

// SummaryText returns the best available conversation summary.
func (d *ConversationDetail) SummaryText() string {
	if d == nil {
		return ""
	}
	for _, s := range []string{d.Analysis.Summary, d.Summary, d.Analysis.TranscriptSummary} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
