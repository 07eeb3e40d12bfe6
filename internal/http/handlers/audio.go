package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/callsync/internal/convai"
	"github.com/wolfman30/callsync/pkg/logging"
)

// AudioStreamer opens a conversation recording.
type AudioStreamer interface {
	StreamAudio(ctx context.Context, conversationID string) (io.ReadCloser, string, error)
}

// AudioProxyHandler serves GET /api/calls/audio/{conversationID} so
// recordings can be played without exposing the analytics API key.
type AudioProxyHandler struct {
	audio  AudioStreamer
	logger *logging.Logger
}

func NewAudioProxyHandler(audio AudioStreamer, logger *logging.Logger) *AudioProxyHandler {
	if audio == nil {
		panic("handlers: audio streamer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AudioProxyHandler{audio: audio, logger: logger}
}

func (h *AudioProxyHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "conversationID"))
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "missing conversation id")
		return
	}

	body, contentType, err := h.audio.StreamAudio(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, convai.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recording not found")
			return
		}
		h.logger.Error("audio proxy failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusBadGateway, "recording unavailable")
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Warn("audio proxy copy interrupted", "conversation_id", conversationID, "error", err)
	}
}
