package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/observability/metrics"
	"github.com/wolfman30/callsync/pkg/logging"
)

var webhookTracer = otel.Tracer("callsync.internal.http.handlers")

// StatusIngestor applies one call-status event.
type StatusIngestor interface {
	HandleStatusEvent(ctx context.Context, ev calls.StatusEvent) (calls.Ack, error)
}

// CallStatusOption customizes a CallStatusHandler.
type CallStatusOption func(*CallStatusHandler)

// WithTwilioSignature requires a valid X-Twilio-Signature computed with
// authToken. publicBaseURL, when set, is used to rebuild the signed URL.
func WithTwilioSignature(authToken, publicBaseURL string) CallStatusOption {
	return func(h *CallStatusHandler) {
		h.authToken = authToken
		h.publicBaseURL = publicBaseURL
	}
}

// WithAckTimeout bounds the synchronous part of the webhook.
func WithAckTimeout(d time.Duration) CallStatusOption {
	return func(h *CallStatusHandler) {
		if d > 0 {
			h.ackTimeout = d
		}
	}
}

// WithWebhookMetrics records webhook results and latency.
func WithWebhookMetrics(m *metrics.PipelineMetrics) CallStatusOption {
	return func(h *CallStatusHandler) {
		h.metrics = m
	}
}

// CallStatusHandler serves POST /webhooks/twilio/call-status. It answers as
// soon as the status is stored; enrichment runs in the background.
type CallStatusHandler struct {
	ingestor      StatusIngestor
	authToken     string
	publicBaseURL string
	ackTimeout    time.Duration
	metrics       *metrics.PipelineMetrics
	logger        *logging.Logger
}

// NewCallStatusHandler wires the webhook handler.
func NewCallStatusHandler(ingestor StatusIngestor, logger *logging.Logger, opts ...CallStatusOption) *CallStatusHandler {
	if ingestor == nil {
		panic("handlers: status ingestor cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &CallStatusHandler{ingestor: ingestor, ackTimeout: 5 * time.Second, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle is the http.HandlerFunc for the webhook.
func (h *CallStatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "webhook.call_status")
	defer span.End()

	status := "unknown"
	result := "ok"
	defer func() {
		h.metrics.ObserveWebhook(status, result, time.Since(start).Seconds())
	}()

	if h.authToken != "" && !calls.ValidateTwilioSignature(r, h.authToken, webhookURL(r, h.publicBaseURL)) {
		h.logger.Warn("invalid twilio signature on call status webhook")
		result = "forbidden"
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	ev, err := calls.ParseStatusEvent(r)
	if err != nil {
		h.logger.Warn("unreadable call status webhook", "error", err)
		result = "bad_request"
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	status = string(calls.MapStatus(ev.RawStatus))
	span.SetAttributes(
		attribute.String("callsync.call_id", ev.CallID),
		attribute.String("callsync.raw_status", ev.RawStatus),
	)

	ackCtx, cancel := context.WithTimeout(ctx, h.ackTimeout)
	defer cancel()
	_, err = h.ingestor.HandleStatusEvent(ackCtx, ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, calls.ErrMissingCallID):
		result = "bad_request"
		writeError(w, http.StatusBadRequest, "missing CallSid")
	case errors.Is(err, calls.ErrVoiceLineNotFound):
		result = "unknown_line"
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "voice line not found"})
	default:
		result = "error"
		span.RecordError(err)
		h.logger.ForCall(ev.CallID, "webhook").Error("failed to record call status", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
