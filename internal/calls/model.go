package calls

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a call record.
type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Direction of the call relative to the voice line.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// CallRecord is the persisted state of one telephony call.
//
// Lifecycle fields are owned by the Ingestor. Enrichment fields
// (ExternalConversationID, Transcript, RecordingRef, ConversationPayload) are
// written once by the enrichment writer.
type CallRecord struct {
	ID              string     `json:"id"`
	ProviderCallID  string     `json:"provider_call_id"`
	VoiceLineID     string     `json:"voice_line_id"`
	AccountID       string     `json:"account_id"`
	Status          Status     `json:"status"`
	Direction       Direction  `json:"direction"`
	FromNumber      string     `json:"from_number"`
	ToNumber        string     `json:"to_number"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	ExternalConversationID string          `json:"external_conversation_id,omitempty"`
	Transcript             string          `json:"transcript,omitempty"`
	RecordingRef           string          `json:"recording_ref,omitempty"`
	ConversationPayload    json.RawMessage `json:"conversation_payload,omitempty"`
	NotificationSentAt     *time.Time      `json:"notification_sent_at,omitempty"`
	LeadID                 string          `json:"lead_id,omitempty"`
}

// Enriched reports whether the record has already been matched and enriched.
func (c *CallRecord) Enriched() bool {
	return c != nil && c.ExternalConversationID != "" && len(c.ConversationPayload) > 0
}

// Duration returns the recorded duration in seconds, treating an unknown duration as zero.
func (c *CallRecord) Duration() int {
	if c == nil || c.DurationSeconds == nil {
		return 0
	}
	return *c.DurationSeconds
}

// VoiceLine is a configured destination number owned by an account.
type VoiceLine struct {
	ID            string `json:"id"`
	AccountID     string `json:"account_id"`
	Name          string `json:"name"`
	PhoneNumber   string `json:"phone_number"`
	NotifyEnabled bool   `json:"notify_enabled"`
	NotifyEmail   string `json:"notify_email"`
}

// WantsNotification reports whether the owner should get call summaries.
func (v *VoiceLine) WantsNotification() bool {
	return v != nil && v.NotifyEnabled && strings.TrimSpace(v.NotifyEmail) != ""
}

// StatusEvent is one normalized call-status webhook.
type StatusEvent struct {
	CallID          string `validate:"required"`
	RawStatus       string
	DurationSeconds *int
	From            string
	To              string
	Direction       string
}

// LifecycleUpdate is the atomic state change applied for a status event.
type LifecycleUpdate struct {
	Status          Status
	DurationSeconds *int
	EndedAt         *time.Time
}

// Enrichment holds the fields written when a conversation is matched.
type Enrichment struct {
	ExternalConversationID string
	Transcript             string
	RecordingRef           string
	Payload                json.RawMessage
}

// Ack is what the ingestor reports back to the webhook caller.
type Ack struct {
	CallID    string
	Status    Status
	Created   bool
	Scheduled bool
}

// MapStatus maps a carrier status string to a lifecycle status.
// Unknown values fall back to INITIATED.
func MapStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ringing", "initiated":
		return StatusInitiated
	case "in-progress", "answered":
		return StatusInProgress
	case "completed":
		return StatusCompleted
	case "busy", "no-answer", "canceled", "failed":
		return StatusFailed
	default:
		return StatusInitiated
	}
}

// ParseDuration parses a carrier duration field. Empty or non-numeric values
// are treated as absent.
func ParseDuration(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// ParseDirection maps the carrier's direction ("inbound", "outbound-api",
// "outbound-dial") onto a Direction. Empty means inbound.
func ParseDirection(raw string) Direction {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "outbound") {
		return DirectionOutbound
	}
	return DirectionInbound
}

func shouldEnrich(status Status, duration *int) bool {
	return status == StatusCompleted || (duration != nil && *duration > 0)
}
