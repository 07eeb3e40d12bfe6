package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/convai"
	"github.com/wolfman30/callsync/internal/matching"
	"github.com/wolfman30/callsync/internal/observability/metrics"
	"github.com/wolfman30/callsync/pkg/logging"
)

var tracer = otel.Tracer("callsync.internal.enrichment")

const defaultFollowUpTimeout = 30 * time.Second

// CandidateSource lists recent analytics conversations.
type CandidateSource interface {
	ListRecent(ctx context.Context) ([]convai.ConversationSummary, error)
}

// FollowUp runs the side effects of a freshly enriched call.
type FollowUp interface {
	Run(ctx context.Context, call *calls.CallRecord, detail *convai.ConversationDetail) error
}

// Runner executes a single enrichment attempt.
type Runner interface {
	RunAttempt(ctx context.Context, callID string, attempt int) (Outcome, error)
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithMatchParams overrides the matcher thresholds.
func WithMatchParams(p matching.Params) PipelineOption {
	return func(pl *Pipeline) {
		pl.params = p
	}
}

// WithFollowUp runs f after every applied enrichment.
func WithFollowUp(f FollowUp) PipelineOption {
	return func(pl *Pipeline) {
		pl.followup = f
	}
}

// WithFollowUpTimeout bounds follow-up separately from the attempt deadline.
func WithFollowUpTimeout(d time.Duration) PipelineOption {
	return func(pl *Pipeline) {
		if d > 0 {
			pl.followupTimeout = d
		}
	}
}

// WithMetrics records attempt outcomes and match scores.
func WithMetrics(m *metrics.PipelineMetrics) PipelineOption {
	return func(pl *Pipeline) {
		pl.metrics = m
	}
}

// Pipeline is one enrichment attempt: load, match, write, follow up.
type Pipeline struct {
	store           calls.Store
	source          CandidateSource
	writer          *Writer
	followup        FollowUp
	followupTimeout time.Duration
	params          matching.Params
	metrics         *metrics.PipelineMetrics
	logger          *logging.Logger
}

// NewPipeline wires an attempt pipeline. store, source and writer are required.
func NewPipeline(store calls.Store, source CandidateSource, writer *Writer, logger *logging.Logger, opts ...PipelineOption) *Pipeline {
	if store == nil {
		panic("enrichment: call store cannot be nil")
	}
	if source == nil {
		panic("enrichment: candidate source cannot be nil")
	}
	if writer == nil {
		panic("enrichment: writer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pipeline{
		store:  store,
		source: source,
		writer: writer,
		params: matching.DefaultParams(),
		logger: logger,

		followupTimeout: defaultFollowUpTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunAttempt performs attempt number attempt for callID. A nil error with a
// non-terminal outcome means the conversation is not visible yet.
func (p *Pipeline) RunAttempt(ctx context.Context, callID string, attempt int) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "enrichment.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("callsync.call_id", callID),
		attribute.Int("callsync.attempt", attempt),
	)
	logger := p.logger.ForCall(callID, "enrichment").With("attempt", attempt)

	outcome, res, err := p.attempt(ctx, callID)
	if err != nil {
		span.RecordError(err)
		p.metrics.ObserveAttempt("error")
		logger.Warn("enrichment attempt failed", "error", err)
		return "", err
	}
	span.SetAttributes(attribute.String("callsync.outcome", string(outcome)))
	p.metrics.ObserveAttempt(string(outcome))

	fields := []any{"outcome", outcome, "candidates", res.Considered, "eligible", res.Eligible}
	if res.Matched {
		fields = append(fields, "score", res.Score, "conversation_id", res.Candidate.ExternalID)
	}
	logger.Info("enrichment attempt finished", fields...)
	return outcome, nil
}

func (p *Pipeline) attempt(ctx context.Context, callID string) (Outcome, matching.Result, error) {
	rec, err := p.store.GetByProviderID(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrCallNotFound) {
			return OutcomeNotFound, matching.Result{}, nil
		}
		return "", matching.Result{}, fmt.Errorf("enrichment: load call: %w", err)
	}
	if rec.ExternalConversationID != "" {
		return OutcomeAlreadyEnriched, matching.Result{}, nil
	}

	summaries, err := p.source.ListRecent(ctx)
	if err != nil {
		return "", matching.Result{}, fmt.Errorf("enrichment: list conversations: %w", err)
	}

	res := matching.FindBestMatch(
		matching.Call{CreatedAt: rec.CreatedAt, DurationSeconds: rec.Duration()},
		toCandidates(summaries),
		p.params,
	)
	if !res.Matched {
		return OutcomeNoMatch, res, nil
	}
	p.metrics.ObserveMatchScore(res.Score)

	written, err := p.writer.ApplyMatch(ctx, callID, res.Candidate.ExternalID)
	if err != nil {
		return "", res, err
	}
	if written.Outcome == OutcomeApplied {
		p.runFollowUp(ctx, callID, written)
	}
	return written.Outcome, res, nil
}

// runFollowUp runs on its own deadline. An applied call is never retried.
func (p *Pipeline) runFollowUp(ctx context.Context, callID string, written WriteResult) {
	if p.followup == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.followupTimeout)
	defer cancel()
	if err := p.followup.Run(ctx, written.Call, written.Detail); err != nil {
		p.logger.ForCall(callID, "followup").Error("follow-up failed after enrichment", "error", err)
	}
}

func toCandidates(summaries []convai.ConversationSummary) []matching.Candidate {
	out := make([]matching.Candidate, 0, len(summaries))
	for _, s := range summaries {
		if s.ConversationID == "" {
			continue
		}
		out = append(out, matching.Candidate{
			ExternalID:      s.ConversationID,
			StartTime:       s.StartTime(),
			DurationSeconds: s.CallDurationSecs,
			ProviderStatus:  s.Status,
		})
	}
	return out
}
