package leads

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/callsync/pkg/logging"
)

// Handler serves read-only lead endpoints for operators.
type Handler struct {
	repo   Repository
	logger *logging.Logger
}

// NewHandler creates a new leads handler
func NewHandler(repo Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

// LeadResponse is a lead with its notes.
type LeadResponse struct {
	Lead  *Lead   `json:"lead"`
	Notes []*Note `json:"notes"`
}

// GetLead handles GET /admin/leads/{leadID}
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	if leadID == "" {
		http.Error(w, "missing lead_id", http.StatusBadRequest)
		return
	}

	lead, err := h.repo.GetByID(r.Context(), leadID)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			http.Error(w, "lead not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load lead", "error", err, "lead_id", leadID)
		http.Error(w, "failed to load lead", http.StatusInternalServerError)
		return
	}
	notes, err := h.repo.ListNotes(r.Context(), leadID)
	if err != nil {
		h.logger.Error("failed to list lead notes", "error", err, "lead_id", leadID)
		http.Error(w, "failed to load lead", http.StatusInternalServerError)
		return
	}
	if notes == nil {
		notes = []*Note{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LeadResponse{Lead: lead, Notes: notes})
}
