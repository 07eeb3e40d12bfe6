package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string, delay time.Duration) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// attemptPayload is one scheduled attempt travelling through the queue.
type attemptPayload struct {
	ID         string    `json:"id"`
	CallID     string    `json:"call_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encodeAttempt(payload attemptPayload) (string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("enrichment: failed to encode attempt: %w", err)
	}
	return string(body), nil
}

func decodeAttempt(body string) (attemptPayload, error) {
	var payload attemptPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return attemptPayload{}, fmt.Errorf("enrichment: failed to decode attempt: %w", err)
	}
	if payload.CallID == "" || payload.Attempt < 1 {
		return attemptPayload{}, fmt.Errorf("enrichment: invalid attempt payload %q", body)
	}
	return payload, nil
}
