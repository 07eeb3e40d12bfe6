package enrichment

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/wolfman30/callsync/internal/archive"
	"github.com/wolfman30/callsync/internal/calls"
	"github.com/wolfman30/callsync/internal/convai"
	"github.com/wolfman30/callsync/pkg/logging"
)

type fakeSource struct {
	mu         sync.Mutex
	lists      [][]convai.ConversationSummary
	listErr    error
	details    map[string]*convai.ConversationDetail
	detailErr  error
	delay      time.Duration
	listCalls  int
	detailHits int
}

func (f *fakeSource) ListRecent(ctx context.Context) ([]convai.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.lists) == 0 {
		return nil, nil
	}
	out := f.lists[0]
	if len(f.lists) > 1 {
		f.lists = f.lists[1:]
	}
	return out, nil
}

func (f *fakeSource) GetDetail(ctx context.Context, id string) (*convai.ConversationDetail, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailHits++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	d, ok := f.details[id]
	if !ok {
		return nil, convai.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeSource) AudioProxyPath(id string) string {
	return "/api/calls/audio/" + id
}

func (f *fakeSource) detailCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailHits
}

type fakeArchiver struct {
	mu      sync.Mutex
	records []archive.PayloadRecord
	phones  []string
	err     error
}

func (f *fakeArchiver) ArchivePayload(ctx context.Context, rec archive.PayloadRecord, callerPhone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	f.phones = append(f.phones, callerPhone)
	return f.err
}

type fakeFollowUp struct {
	mu    sync.Mutex
	calls []*calls.CallRecord
	err   error
}

func (f *fakeFollowUp) Run(ctx context.Context, call *calls.CallRecord, detail *convai.ConversationDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

// slowFollowUp takes work to finish unless ctx ends first.
type slowFollowUp struct {
	work      time.Duration
	mu        sync.Mutex
	completed bool
	err       error
}

func (f *slowFollowUp) Run(ctx context.Context, call *calls.CallRecord, detail *convai.ConversationDetail) error {
	var err error
	select {
	case <-time.After(f.work):
	case <-ctx.Done():
		err = ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = err == nil
	f.err = err
	return err
}

func (f *slowFollowUp) result() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed, f.err
}

func (f *fakeFollowUp) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// scriptedRunner returns outcomes in order, repeating the last one.
type scriptedRunner struct {
	mu       sync.Mutex
	outcomes []Outcome
	errs     []error
	attempts []int
	times    []time.Time
}

func (r *scriptedRunner) RunAttempt(ctx context.Context, callID string, attempt int) (Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.attempts)
	r.attempts = append(r.attempts, attempt)
	r.times = append(r.times, time.Now())
	var err error
	if idx < len(r.errs) {
		err = r.errs[idx]
	}
	if err != nil {
		return "", err
	}
	if len(r.outcomes) == 0 {
		return OutcomeNoMatch, nil
	}
	if idx >= len(r.outcomes) {
		idx = len(r.outcomes) - 1
	}
	return r.outcomes[idx], nil
}

func (r *scriptedRunner) seen() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.attempts...)
}

func intPtr(v int) *int { return &v }

func seedCall(store *calls.MemoryStore, id string, createdAt time.Time, duration int) {
	store.Put(&calls.CallRecord{
		ProviderCallID:  id,
		VoiceLineID:     "line-1",
		AccountID:       "acct-1",
		Status:          calls.StatusCompleted,
		Direction:       calls.DirectionInbound,
		FromNumber:      "+15551234567",
		ToNumber:        "+15550001111",
		DurationSeconds: intPtr(duration),
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	})
}

func sampleDetail(id string, hasAudio bool) *convai.ConversationDetail {
	raw, _ := json.Marshal(map[string]any{"conversation_id": id, "has_audio": hasAudio})
	return &convai.ConversationDetail{
		ConversationID: id,
		Status:         "done",
		HasAudio:       hasAudio,
		Transcript: []convai.TranscriptTurn{
			{Role: "agent", Message: "Hello"},
			{Role: "user", Message: "Hi", TimeInCallSecs: secs(3)},
		},
		Analysis: convai.Analysis{Summary: "Caller asked about hours."},
		Raw:      raw,
	}
}

func quietLogger() *logging.Logger { return logging.Discard() }
