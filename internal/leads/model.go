package leads

import (
	"strings"
	"time"
)

// SourceVoiceAICall marks leads created from an inbound AI-answered call.
const SourceVoiceAICall = "voice_ai_call"

// StatusNew is the initial status of an auto-created lead.
const StatusNew = "NEW"

// Lead is a CRM contact owned by an account.
type Lead struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	Source          string     `json:"source"`
	Status          string     `json:"status"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Note is a free-text entry attached to a lead.
type Note struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLeadRequest represents a new lead
type CreateLeadRequest struct {
	AccountID       string
	Name            string
	Email           string
	Phone           string
	Source          string
	Status          string
	LastContactedAt *time.Time
}

// Validate validates the create lead request
func (r *CreateLeadRequest) Validate() error {
	if strings.TrimSpace(r.AccountID) == "" {
		return ErrMissingAccountID
	}
	if strings.TrimSpace(r.Name) == "" {
		return ErrInvalidName
	}
	if strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Phone) == "" {
		return ErrMissingContact
	}
	return nil
}
