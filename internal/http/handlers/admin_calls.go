package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/enrichment"
	"github.com/wolfman30/callsync/pkg/logging"
)

// CallReader loads call records.
type CallReader interface {
	GetByProviderID(ctx context.Context, providerCallID string) (*calls.CallRecord, error)
}

// AdminCallsHandler exposes call records and a manual enrichment trigger.
type AdminCallsHandler struct {
	calls     CallReader
	scheduler calls.Scheduler
	logger    *logging.Logger
}

func NewAdminCallsHandler(reader CallReader, scheduler calls.Scheduler, logger *logging.Logger) *AdminCallsHandler {
	if reader == nil {
		panic("handlers: call reader cannot be nil")
	}
	if scheduler == nil {
		panic("handlers: scheduler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminCallsHandler{calls: reader, scheduler: scheduler, logger: logger}
}

// GetCall handles GET /admin/calls/{callID}.
func (h *AdminCallsHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Enrich handles POST /admin/calls/{callID}/enrich. It goes through the
// normal scheduler, so the give-up marker and the write guard still apply.
func (h *AdminCallsHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	if rec.Enriched() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_enriched"})
		return
	}
	err := h.scheduler.Schedule(r.Context(), rec.ProviderCallID)
	switch {
	case err == nil:
		h.logger.ForCall(rec.ProviderCallID, "admin").Info("manual enrichment scheduled")
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	case errors.Is(err, enrichment.ErrExhausted):
		writeError(w, http.StatusConflict, "retries exhausted for call")
	default:
		h.logger.ForCall(rec.ProviderCallID, "admin").Error("manual enrichment failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "could not schedule enrichment")
	}
}

func (h *AdminCallsHandler) load(w http.ResponseWriter, r *http.Request) (*calls.CallRecord, bool) {
	callID := strings.TrimSpace(chi.URLParam(r, "callID"))
	if callID == "" {
		writeError(w, http.StatusBadRequest, "missing call id")
		return nil, false
	}
	rec, err := h.calls.GetByProviderID(r.Context(), callID)
	if err != nil {
		if errors.Is(err, calls.ErrCallNotFound) {
			writeError(w, http.StatusNotFound, "call not found")
			return nil, false
		}
		h.logger.ForCall(callID, "admin").Error("failed to load call", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return rec, true
}
