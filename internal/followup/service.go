// Package followup turns a freshly enriched call into CRM work: it finds or
// creates the caller's lead, appends a call note, and emails the line owner.
package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/convai"
	"github.com/wolfman30/callsync/internal/leads"
	"github.com/wolfman30/callsync/internal/notify"
	"github.com/wolfman30/callsync/internal/observability/metrics"
	"github.com/wolfman30/callsync/internal/recording"
	"github.com/wolfman30/callsync/pkg/logging"
)

var tracer = otel.Tracer("callsync.internal.followup")

const (
	unknownCallerName = "Unknown Caller"
	defaultAgentName  = "AI Agent"
)

// CallStamps is the part of the call store follow-up writes to.
type CallStamps interface {
	SetLeadID(ctx context.Context, providerCallID, leadID string) error
	MarkNotificationSent(ctx context.Context, providerCallID string, at time.Time) error
}

// Notifier delivers call summaries.
type Notifier interface {
	NotifyCallSummary(ctx context.Context, dest notify.Destination, summary notify.CallSummary) bool
}

// Option customizes a Service.
type Option func(*Service)

// WithPublicBaseURL makes recording links in notifications absolute.
func WithPublicBaseURL(base string) Option {
	return func(s *Service) {
		s.publicBaseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithRecordingLinks signs recording links so they open from an email client.
func WithRecordingLinks(signer *recording.LinkSigner) Option {
	return func(s *Service) {
		s.links = signer
	}
}

// WithMetrics records lead and notification results.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service runs the post-enrichment side effects for one call.
type Service struct {
	leads         leads.Repository
	calls         CallStamps
	lines         calls.VoiceLineStore
	notifier      Notifier
	publicBaseURL string
	links         *recording.LinkSigner
	metrics       *metrics.PipelineMetrics
	logger        *logging.Logger
	now           func() time.Time
}

// NewService wires the follow-up service. A nil notifier disables email.
func NewService(repo leads.Repository, stamps CallStamps, lines calls.VoiceLineStore, notifier Notifier, logger *logging.Logger, opts ...Option) *Service {
	if repo == nil {
		panic("followup: lead repository cannot be nil")
	}
	if stamps == nil {
		panic("followup: call store cannot be nil")
	}
	if lines == nil {
		panic("followup: voice line store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		leads:    repo,
		calls:    stamps,
		lines:    lines,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reconciles the caller's lead, appends exactly one note and, when the
// voice line asks for it, notifies the owner. It never touches enrichment
// fields; the returned error only reports what was skipped.
func (s *Service) Run(ctx context.Context, call *calls.CallRecord, detail *convai.ConversationDetail) error {
	if call == nil {
		return errors.New("followup: call record is required")
	}
	ctx, span := tracer.Start(ctx, "followup.run")
	defer span.End()
	span.SetAttributes(attribute.String("callsync.call_id", call.ProviderCallID))
	logger := s.logger.ForCall(call.ProviderCallID, "followup")

	line, err := s.lines.GetByID(ctx, call.VoiceLineID)
	if err != nil {
		logger.Warn("voice line lookup failed, notification skipped", "voice_line_id", call.VoiceLineID, "error", err)
	}

	summary := ""
	if detail != nil {
		summary = detail.SummaryText()
	}
	purpose := CallPurpose(detail)

	var errs []error
	lead, created, err := s.reconcileLead(ctx, call, detail)
	if err != nil {
		s.metrics.ObserveLead("error")
		logger.Error("lead reconciliation failed", "error", err)
		errs = append(errs, err)
	} else {
		if created {
			s.metrics.ObserveLead("created")
		} else {
			s.metrics.ObserveLead("matched")
		}
		note := buildNote(noteInput{
			At:              s.now(),
			NewLead:         created,
			DurationSeconds: call.Duration(),
			Purpose:         purpose,
			Summary:         summary,
			Transcript:      call.Transcript,
		})
		if _, err := s.leads.AppendNote(ctx, lead.ID, note); err != nil {
			logger.Error("failed to append call note", "lead_id", lead.ID, "error", err)
			errs = append(errs, fmt.Errorf("followup: append note: %w", err))
		}
		logger.Info("lead updated from call", "lead_id", lead.ID, "lead_created", created)
	}

	if line.WantsNotification() {
		s.sendNotification(ctx, logger, call, line, lead, detail, purpose, summary)
	}
	return errors.Join(errs...)
}

func (s *Service) reconcileLead(ctx context.Context, call *calls.CallRecord, detail *convai.ConversationDetail) (*leads.Lead, bool, error) {
	now := s.now()
	lead, err := s.leads.FindByPhoneSuffix(ctx, call.AccountID, call.FromNumber)
	switch {
	case err == nil:
		if err := s.leads.Touch(ctx, lead.ID, now); err != nil {
			s.logger.ForCall(call.ProviderCallID, "followup").Warn("failed to bump last contacted", "lead_id", lead.ID, "error", err)
		}
		s.stampLead(ctx, call, lead.ID)
		return lead, false, nil
	case !errors.Is(err, leads.ErrLeadNotFound):
		return nil, false, fmt.Errorf("followup: find lead: %w", err)
	}

	name := CallerName(detail)
	if name == "" {
		name = unknownCallerName
	}
	lead, err = s.leads.Create(ctx, &leads.CreateLeadRequest{
		AccountID:       call.AccountID,
		Name:            name,
		Phone:           call.FromNumber,
		Source:          leads.SourceVoiceAICall,
		Status:          leads.StatusNew,
		LastContactedAt: &now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("followup: create lead: %w", err)
	}
	s.stampLead(ctx, call, lead.ID)
	return lead, true, nil
}

func (s *Service) stampLead(ctx context.Context, call *calls.CallRecord, leadID string) {
	if err := s.calls.SetLeadID(ctx, call.ProviderCallID, leadID); err != nil {
		s.logger.ForCall(call.ProviderCallID, "followup").Warn("failed to link lead to call", "lead_id", leadID, "error", err)
		return
	}
	call.LeadID = leadID
}

func (s *Service) sendNotification(ctx context.Context, logger *logging.Logger, call *calls.CallRecord, line *calls.VoiceLine, lead *leads.Lead, detail *convai.ConversationDetail, purpose, summary string) {
	if s.notifier == nil {
		logger.Warn("notification requested but no email sender configured")
		return
	}

	callerName := call.FromNumber
	callerEmail := ""
	if lead != nil {
		if strings.TrimSpace(lead.Name) != "" {
			callerName = lead.Name
		}
		callerEmail = lead.Email
	} else if n := CallerName(detail); n != "" {
		callerName = n
	}
	if callerName == "" {
		callerName = "Unknown"
	}
	callerPhone := call.FromNumber
	if callerPhone == "" {
		callerPhone = "Unknown"
	}
	agentName := strings.TrimSpace(line.Name)
	if agentName == "" {
		agentName = defaultAgentName
	}
	recordingURL := s.recordingURL(logger, call)

	sent := s.notifier.NotifyCallSummary(ctx, notify.Destination{Email: line.NotifyEmail, Name: line.Name}, notify.CallSummary{
		CallID:          call.ProviderCallID,
		CallerName:      callerName,
		CallerPhone:     callerPhone,
		CallerEmail:     callerEmail,
		CallReason:      purpose,
		AgentName:       agentName,
		DurationSeconds: call.Duration(),
		CallDate:        call.CreatedAt,
		Transcript:      call.Transcript,
		Summary:         summary,
		RecordingURL:    recordingURL,
	})
	s.metrics.ObserveNotification(sent)
	if !sent {
		return
	}
	if err := s.calls.MarkNotificationSent(ctx, call.ProviderCallID, s.now()); err != nil {
		logger.Warn("failed to stamp notification", "error", err)
	}
}

func (s *Service) recordingURL(logger *logging.Logger, call *calls.CallRecord) string {
	if call.RecordingRef == "" {
		return ""
	}
	link := s.publicBaseURL + call.RecordingRef
	if s.links == nil {
		return link
	}
	signed, err := s.links.SignedURL(link, call.ExternalConversationID)
	if err != nil {
		logger.Warn("recording link not signed, omitted from notification", "error", err)
		return ""
	}
	return signed
}
