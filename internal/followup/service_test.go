package followup

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/convai"
	"github.com/wolfman30/callsync/internal/leads"
	"github.com/wolfman30/callsync/internal/notify"
	"github.com/wolfman30/callsync/internal/recording"
	"github.com/wolfman30/callsync/pkg/logging"
)

type fakeNotifier struct {
	mu        sync.Mutex
	dests     []notify.Destination
	summaries []notify.CallSummary
	ok        bool
}

func (f *fakeNotifier) NotifyCallSummary(ctx context.Context, dest notify.Destination, summary notify.CallSummary) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dests = append(f.dests, dest)
	f.summaries = append(f.summaries, summary)
	return f.ok
}

var fixedNow = time.Date(2026, 3, 14, 15, 4, 0, 0, time.UTC)

type fixture struct {
	repo     *leads.InMemoryRepository
	store    *calls.MemoryStore
	notifier *fakeNotifier
	svc      *Service
	call     *calls.CallRecord
}

func newFixture(t *testing.T, line calls.VoiceLine) *fixture {
	t.Helper()
	repo := leads.NewInMemoryRepository()
	store := calls.NewMemoryStore()
	dur := 95
	call := &calls.CallRecord{
		ProviderCallID:         "CA1",
		VoiceLineID:            line.ID,
		AccountID:              line.AccountID,
		Status:                 calls.StatusCompleted,
		FromNumber:             "5551234567",
		ToNumber:               line.PhoneNumber,
		DurationSeconds:        &dur,
		CreatedAt:              fixedNow.Add(-2 * time.Minute),
		ExternalConversationID: "conv_1",
		Transcript:             "[0:03] User: Do you have openings Tuesday?",
		RecordingRef:           "/api/calls/audio/conv_1",
	}
	store.Put(call)
	notifier := &fakeNotifier{ok: true}
	svc := NewService(repo, store, calls.NewStaticVoiceLines(line), notifier, logging.Discard(),
		WithClock(func() time.Time { return fixedNow }),
		WithPublicBaseURL("https://app.example.com/"),
	)
	return &fixture{repo: repo, store: store, notifier: notifier, svc: svc, call: call}
}

func quietLine() calls.VoiceLine {
	return calls.VoiceLine{ID: "line-1", AccountID: "acct-1", Name: "Front Desk", PhoneNumber: "+15550001111"}
}

func notifyingLine() calls.VoiceLine {
	l := quietLine()
	l.NotifyEnabled = true
	l.NotifyEmail = "owner@example.com"
	return l
}

func detailWithSummary(summary string) *convai.ConversationDetail {
	return &convai.ConversationDetail{ConversationID: "conv_1", HasAudio: true, Analysis: convai.Analysis{Summary: summary}}
}

func TestRunMatchesExistingLeadBySuffixScenarioD(t *testing.T) {
	f := newFixture(t, quietLine())
	ctx := context.Background()
	existing, err := f.repo.Create(ctx, &leads.CreateLeadRequest{
		AccountID: "acct-1", Name: "Jane Roe", Phone: "+1 (555) 123-4567", Source: "web",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Run(ctx, f.call, detailWithSummary("Wants a Tuesday cleaning. Prefers mornings.")))

	assert.Equal(t, 1, f.repo.Count(), "no new lead for a known caller")
	notes, err := f.repo.ListNotes(ctx, existing.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.True(t, strings.HasPrefix(notes[0].Content, "Voice AI Call - Mar 14, 2026 3:04 PM UTC\n\n"))
	assert.Contains(t, notes[0].Content, "Call Duration: 95s\n")
	assert.Contains(t, notes[0].Content, "Call Purpose: Wants a Tuesday cleaning.\n\n")
	assert.Contains(t, notes[0].Content, "Summary: Wants a Tuesday cleaning. Prefers mornings.\n\n")
	assert.True(t, strings.HasSuffix(notes[0].Content, "---\n[0:03] User: Do you have openings Tuesday?"))

	lead, err := f.repo.GetByID(ctx, existing.ID)
	require.NoError(t, err)
	require.NotNil(t, lead.LastContactedAt)
	assert.Equal(t, fixedNow, *lead.LastContactedAt)

	rec, err := f.store.GetByProviderID(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, rec.LeadID)
	assert.Empty(t, f.notifier.summaries, "notifications disabled on this line")
	assert.Nil(t, rec.NotificationSentAt)
}

func TestRunCreatesLeadForUnknownCaller(t *testing.T) {
	f := newFixture(t, quietLine())
	ctx := context.Background()
	detail := &convai.ConversationDetail{
		ConversationID: "conv_1",
		Analysis:       convai.Analysis{CallerName: "Sam Patel"},
	}
	f.call.Transcript = ""

	require.NoError(t, f.svc.Run(ctx, f.call, detail))

	require.Equal(t, 1, f.repo.Count())
	lead, err := f.repo.FindByPhoneSuffix(ctx, "acct-1", "+15551234567")
	require.NoError(t, err)
	assert.Equal(t, "Sam Patel", lead.Name)
	assert.Equal(t, leads.SourceVoiceAICall, lead.Source)
	assert.Equal(t, leads.StatusNew, lead.Status)

	notes, _ := f.repo.ListNotes(ctx, lead.ID)
	require.Len(t, notes, 1)
	assert.True(t, strings.HasPrefix(notes[0].Content, "Initial Voice AI Call - "))
	assert.Contains(t, notes[0].Content, "Call Purpose: Not specified\n")
	assert.Contains(t, notes[0].Content, "Summary: Caller contacted via Voice AI. Follow up needed.\n")
	assert.True(t, strings.HasSuffix(notes[0].Content, "---\nNo transcript available"))
}

func TestRunUnknownCallerWithoutNameFallsBack(t *testing.T) {
	f := newFixture(t, quietLine())
	require.NoError(t, f.svc.Run(context.Background(), f.call, nil))
	lead, err := f.repo.FindByPhoneSuffix(context.Background(), "acct-1", "5551234567")
	require.NoError(t, err)
	assert.Equal(t, "Unknown Caller", lead.Name)
}

func TestRunLeadsAreScopedToAccount(t *testing.T) {
	f := newFixture(t, quietLine())
	ctx := context.Background()
	_, err := f.repo.Create(ctx, &leads.CreateLeadRequest{AccountID: "acct-other", Name: "Other", Phone: "5551234567"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Run(ctx, f.call, nil))
	assert.Equal(t, 2, f.repo.Count())
}

func TestRunNotifiesOwnerAndStamps(t *testing.T) {
	f := newFixture(t, notifyingLine())
	ctx := context.Background()
	detail := detailWithSummary("Caller asked about pricing.")
	detail.Analysis.CallPurpose = "Pricing question"
	detail.Metadata.CustomerName = "Lee Chen"

	require.NoError(t, f.svc.Run(ctx, f.call, detail))

	require.Len(t, f.notifier.summaries, 1)
	got := f.notifier.summaries[0]
	assert.Equal(t, "owner@example.com", f.notifier.dests[0].Email)
	assert.Equal(t, "Lee Chen", got.CallerName)
	assert.Equal(t, "5551234567", got.CallerPhone)
	assert.Equal(t, "Pricing question", got.CallReason)
	assert.Equal(t, "Front Desk", got.AgentName)
	assert.Equal(t, 95, got.DurationSeconds)
	assert.Equal(t, "Caller asked about pricing.", got.Summary)
	assert.Equal(t, "https://app.example.com/api/calls/audio/conv_1", got.RecordingURL)

	rec, _ := f.store.GetByProviderID(ctx, "CA1")
	require.NotNil(t, rec.NotificationSentAt)
	assert.Equal(t, fixedNow, *rec.NotificationSentAt)
}

func TestRunNotificationFailureLeavesStampEmpty(t *testing.T) {
	f := newFixture(t, notifyingLine())
	f.notifier.ok = false

	require.NoError(t, f.svc.Run(context.Background(), f.call, nil))

	rec, _ := f.store.GetByProviderID(context.Background(), "CA1")
	assert.Nil(t, rec.NotificationSentAt)
	assert.Equal(t, 1, f.repo.Count(), "lead work still happens")
}

func TestRunAnonymousCallerStillNotifies(t *testing.T) {
	f := newFixture(t, notifyingLine())
	f.call.FromNumber = ""

	err := f.svc.Run(context.Background(), f.call, nil)
	assert.ErrorIs(t, err, leads.ErrMissingContact)
	assert.Equal(t, 0, f.repo.Count())
	require.Len(t, f.notifier.summaries, 1)
	assert.Equal(t, "Unknown", f.notifier.summaries[0].CallerPhone)
}

func TestCallPurposeOrder(t *testing.T) {
	assert.Equal(t, "", CallPurpose(nil))

	d := &convai.ConversationDetail{}
	assert.Equal(t, "", CallPurpose(d))

	d.Summary = strings.Repeat("x", 160) + ". Short."
	assert.Equal(t, "", CallPurpose(d), "first sentence too long")

	d.Summary = "Booked a cleaning. Confirmed by text."
	assert.Equal(t, "Booked a cleaning.", CallPurpose(d))

	d.Metadata.Purpose = "Scheduling"
	assert.Equal(t, "Scheduling", CallPurpose(d))

	d.Analysis.CallPurpose = "New patient"
	assert.Equal(t, "New patient", CallPurpose(d))
}

func TestRunSignsRecordingLink(t *testing.T) {
	f := newFixture(t, notifyingLine())
	f.svc.links = recording.NewLinkSigner("link-secret", time.Hour)

	require.NoError(t, f.svc.Run(context.Background(), f.call, nil))

	require.Len(t, f.notifier.summaries, 1)
	link, err := url.Parse(f.notifier.summaries[0].RecordingURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/calls/audio/conv_1", link.Path)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)
	assert.NoError(t, recording.VerifyLink("link-secret", token, "conv_1"))
	assert.ErrorIs(t, recording.VerifyLink("link-secret", token, "conv_2"), recording.ErrInvalidToken)
}

func TestRunOmitsLinkThatCannotBeSigned(t *testing.T) {
	f := newFixture(t, notifyingLine())
	f.svc.links = recording.NewLinkSigner("link-secret", time.Hour)
	f.call.ExternalConversationID = ""

	require.NoError(t, f.svc.Run(context.Background(), f.call, nil))
	require.Len(t, f.notifier.summaries, 1)
	assert.Empty(t, f.notifier.summaries[0].RecordingURL)
}
