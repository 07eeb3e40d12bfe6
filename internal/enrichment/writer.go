package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/callsync/internal/archive"
	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/convai"
	"github.com/wolfman30/callsync/pkg/logging"
)

// DetailSource fetches full conversation details and builds audio proxy paths.
type DetailSource interface {
	GetDetail(ctx context.Context, conversationID string) (*convai.ConversationDetail, error)
	AudioProxyPath(conversationID string) string
}

// PayloadArchiver stores a copy of an applied conversation payload.
type PayloadArchiver interface {
	ArchivePayload(ctx context.Context, record archive.PayloadRecord, callerPhone string) error
}

// WriteResult is what ApplyMatch did. Call and Detail are set only when
// Outcome is OutcomeApplied; Call reflects the enrichment just written.
type WriteResult struct {
	Outcome Outcome
	Call    *calls.CallRecord
	Detail  *convai.ConversationDetail
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithArchive copies applied payloads to the given archiver. Archive errors are logged only.
func WithArchive(a PayloadArchiver) WriterOption {
	return func(w *Writer) {
		w.archive = a
	}
}

// Writer applies a matched conversation to a call record.
type Writer struct {
	store   calls.Store
	source  DetailSource
	archive PayloadArchiver
	logger  *logging.Logger
}

// NewWriter creates a Writer. store and source are required.
func NewWriter(store calls.Store, source DetailSource, logger *logging.Logger, opts ...WriterOption) *Writer {
	if store == nil {
		panic("enrichment: call store cannot be nil")
	}
	if source == nil {
		panic("enrichment: detail source cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Writer{store: store, source: source, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ApplyMatch attaches conversation externalID to call callID. The record is
// written at most once: a record that already carries an external id, or
// loses the guarded update to a concurrent writer, yields
// OutcomeAlreadyEnriched. Detail fetch failures leave the record untouched
// and are returned so the caller can retry.
func (w *Writer) ApplyMatch(ctx context.Context, callID, externalID string) (WriteResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return WriteResult{}, errors.New("enrichment: external conversation id is required")
	}

	rec, err := w.store.GetByProviderID(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrCallNotFound) {
			return WriteResult{Outcome: OutcomeNotFound}, nil
		}
		return WriteResult{}, fmt.Errorf("enrichment: load call: %w", err)
	}
	if rec.ExternalConversationID != "" {
		return WriteResult{Outcome: OutcomeAlreadyEnriched}, nil
	}

	detail, err := w.source.GetDetail(ctx, externalID)
	if err != nil {
		return WriteResult{}, fmt.Errorf("enrichment: fetch detail %s: %w", externalID, err)
	}

	payload := detail.Raw
	if len(payload) == 0 {
		if payload, err = json.Marshal(detail); err != nil {
			return WriteResult{}, fmt.Errorf("enrichment: encode payload: %w", err)
		}
	}
	enrichment := calls.Enrichment{
		ExternalConversationID: externalID,
		Transcript:             RenderTranscript(detail.Transcript),
		Payload:                payload,
	}
	if detail.HasAudio {
		enrichment.RecordingRef = w.source.AudioProxyPath(externalID)
	}

	applied, err := w.store.ApplyEnrichment(ctx, callID, enrichment)
	if err != nil {
		return WriteResult{}, fmt.Errorf("enrichment: persist: %w", err)
	}
	if !applied {
		return WriteResult{Outcome: OutcomeAlreadyEnriched}, nil
	}

	rec.ExternalConversationID = enrichment.ExternalConversationID
	rec.Transcript = enrichment.Transcript
	rec.RecordingRef = enrichment.RecordingRef
	rec.ConversationPayload = enrichment.Payload

	w.archivePayload(ctx, rec)
	return WriteResult{Outcome: OutcomeApplied, Call: rec, Detail: detail}, nil
}

func (w *Writer) archivePayload(ctx context.Context, rec *calls.CallRecord) {
	if w.archive == nil {
		return
	}
	err := w.archive.ArchivePayload(ctx, archive.PayloadRecord{
		CallID:         rec.ProviderCallID,
		ConversationID: rec.ExternalConversationID,
		AccountID:      rec.AccountID,
		Transcript:     rec.Transcript,
		Payload:        rec.ConversationPayload,
		ArchivedAt:     time.Now().UTC(),
	}, rec.FromNumber)
	if err != nil {
		w.logger.ForCall(rec.ProviderCallID, "writer").Warn("payload archive failed", "error", err)
	}
}
