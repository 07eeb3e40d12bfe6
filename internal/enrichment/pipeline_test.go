package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/convai"
)

func newTestPipeline(store *calls.MemoryStore, source *fakeSource, follow *fakeFollowUp) *Pipeline {
	w := NewWriter(store, source, quietLogger())
	opts := []PipelineOption{}
	if follow != nil {
		opts = append(opts, WithFollowUp(follow))
	}
	return NewPipeline(store, source, w, quietLogger(), opts...)
}

func TestPipelineMatchesAndAppliesScenarioA(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	store := calls.NewMemoryStore()
	seedCall(store, "CA100", created, 90)

	source := &fakeSource{
		lists: [][]convai.ConversationSummary{{
			{ConversationID: "conv_far", StartTimeUnixSecs: created.Add(-10 * time.Minute).Unix(), CallDurationSecs: 90, Status: "done"},
			{ConversationID: "conv_1", StartTimeUnixSecs: created.Add(10 * time.Second).Unix(), CallDurationSecs: 87, Status: "done"},
		}},
		details: map[string]*convai.ConversationDetail{"conv_1": sampleDetail("conv_1", true)},
	}
	follow := &fakeFollowUp{}
	p := newTestPipeline(store, source, follow)

	outcome, err := p.RunAttempt(ctx, "CA100", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	rec, _ := store.GetByProviderID(ctx, "CA100")
	assert.Equal(t, "conv_1", rec.ExternalConversationID)
	require.Equal(t, 1, follow.count())
	assert.Equal(t, "conv_1", follow.calls[0].ExternalConversationID)
	assert.Equal(t, "Agent: Hello\n[0:03] User: Hi", follow.calls[0].Transcript)
}

func TestPipelineIsIdempotent(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	store := calls.NewMemoryStore()
	seedCall(store, "CA101", created, 60)
	source := &fakeSource{
		lists: [][]convai.ConversationSummary{{
			{ConversationID: "conv_1", StartTimeUnixSecs: created.Unix(), CallDurationSecs: 60, Status: "completed"},
		}},
		details: map[string]*convai.ConversationDetail{"conv_1": sampleDetail("conv_1", false)},
	}
	follow := &fakeFollowUp{}
	p := newTestPipeline(store, source, follow)

	first, err := p.RunAttempt(ctx, "CA101", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first)

	before, _ := store.GetByProviderID(ctx, "CA101")
	second, err := p.RunAttempt(ctx, "CA101", 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyEnriched, second)

	after, _ := store.GetByProviderID(ctx, "CA101")
	assert.Equal(t, before.Transcript, after.Transcript)
	assert.Equal(t, before.ExternalConversationID, after.ExternalConversationID)
	assert.Equal(t, 1, follow.count(), "side effects must run once")
	assert.Equal(t, 1, source.listCalls, "enriched call must not list conversations")
}

func TestPipelineNoMatch(t *testing.T) {
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)
	store := calls.NewMemoryStore()
	seedCall(store, "CA102", created, 60)
	source := &fakeSource{
		lists: [][]convai.ConversationSummary{{
			{ConversationID: "conv_running", StartTimeUnixSecs: created.Unix(), CallDurationSecs: 60, Status: "in-progress"},
		}},
	}
	p := newTestPipeline(store, source, nil)

	outcome, err := p.RunAttempt(ctx, "CA102", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, outcome)
	assert.Equal(t, 0, source.detailCalls())
}

func TestPipelineMissingCall(t *testing.T) {
	source := &fakeSource{}
	p := newTestPipeline(calls.NewMemoryStore(), source, nil)
	outcome, err := p.RunAttempt(context.Background(), "CA404", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.Equal(t, 0, source.listCalls)
}

func TestPipelineListFailureIsRetryable(t *testing.T) {
	store := calls.NewMemoryStore()
	seedCall(store, "CA103", time.Now().UTC(), 60)
	p := newTestPipeline(store, &fakeSource{listErr: errors.New("connection refused")}, nil)

	_, err := p.RunAttempt(context.Background(), "CA103", 1)
	assert.Error(t, err)
}

func TestPipelineFollowUpFailureKeepsEnrichment(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	store := calls.NewMemoryStore()
	seedCall(store, "CA104", created, 60)
	source := &fakeSource{
		lists: [][]convai.ConversationSummary{{
			{ConversationID: "conv_1", StartTimeUnixSecs: created.Unix(), CallDurationSecs: 60, Status: "done"},
		}},
		details: map[string]*convai.ConversationDetail{"conv_1": sampleDetail("conv_1", true)},
	}
	p := newTestPipeline(store, source, &fakeFollowUp{err: errors.New("crm down")})

	outcome, err := p.RunAttempt(ctx, "CA104", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	rec, _ := store.GetByProviderID(ctx, "CA104")
	assert.True(t, rec.Enriched())
}

func TestPipelineLateConversationMatchesOnRetry(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	store := calls.NewMemoryStore()
	seedCall(store, "CA105", created, 45)
	source := &fakeSource{
		lists: [][]convai.ConversationSummary{
			{},
			{{ConversationID: "conv_late", StartTimeUnixSecs: created.Add(5 * time.Second).Unix(), CallDurationSecs: 44, Status: "done"}},
		},
		details: map[string]*convai.ConversationDetail{"conv_late": sampleDetail("conv_late", true)},
	}
	p := newTestPipeline(store, source, nil)

	first, err := p.RunAttempt(ctx, "CA105", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, first)

	second, err := p.RunAttempt(ctx, "CA105", 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, second)
}

func TestPipelineFollowUpOutlivesAttemptDeadline(t *testing.T) {
	created := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	store := calls.NewMemoryStore()
	seedCall(store, "CA300", created, 60)
	source := &fakeSource{
		lists: [][]convai.ConversationSummary{{
			{ConversationID: "conv_1", StartTimeUnixSecs: created.Unix(), CallDurationSecs: 60, Status: "done"},
		}},
		details: map[string]*convai.ConversationDetail{"conv_1": sampleDetail("conv_1", false)},
		delay:   120 * time.Millisecond,
	}
	follow := &slowFollowUp{work: 80 * time.Millisecond}
	p := NewPipeline(store, source, NewWriter(store, source, quietLogger()), quietLogger(), WithFollowUp(follow))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	outcome, err := p.RunAttempt(ctx, "CA300", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	completed, ferr := follow.result()
	assert.NoError(t, ferr)
	assert.True(t, completed, "follow-up must not inherit the attempt deadline")
}

func TestPipelineFollowUpTimeout(t *testing.T) {
	created := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	store := calls.NewMemoryStore()
	seedCall(store, "CA301", created, 60)
	source := &fakeSource{
		lists: [][]convai.ConversationSummary{{
			{ConversationID: "conv_1", StartTimeUnixSecs: created.Unix(), CallDurationSecs: 60, Status: "done"},
		}},
		details: map[string]*convai.ConversationDetail{"conv_1": sampleDetail("conv_1", false)},
	}
	follow := &slowFollowUp{work: time.Second}
	p := NewPipeline(store, source, NewWriter(store, source, quietLogger()), quietLogger(),
		WithFollowUp(follow),
		WithFollowUpTimeout(20*time.Millisecond),
	)

	outcome, err := p.RunAttempt(context.Background(), "CA301", 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	completed, ferr := follow.result()
	assert.False(t, completed)
	assert.ErrorIs(t, ferr, context.DeadlineExceeded)
}
