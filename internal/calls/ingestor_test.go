package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/callsync/pkg/logging"
)

type recordingScheduler struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *recordingScheduler) Schedule(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, callID)
	return nil
}

func (s *recordingScheduler) scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

var testLine = VoiceLine{
	ID:            "line-1",
	AccountID:     "acct-1",
	Name:          "Front Desk",
	PhoneNumber:   "+15550001111",
	NotifyEnabled: true,
	NotifyEmail:   "owner@example.com",
}

func newTestIngestor(t *testing.T) (*Ingestor, *MemoryStore, *recordingScheduler) {
	t.Helper()
	store := NewMemoryStore()
	sched := &recordingScheduler{}
	fixed := time.Date(2025, 3, 14, 15, 5, 0, 0, time.UTC)
	ing := NewIngestor(store, NewStaticVoiceLines(testLine), sched, logging.Discard(), WithClock(func() time.Time { return fixed }))
	return ing, store, sched
}

func intPtr(v int) *int { return &v }

func TestHandleStatusEvent_MissingCallID(t *testing.T) {
	ing, store, sched := newTestIngestor(t)

	_, err := ing.HandleStatusEvent(context.Background(), StatusEvent{RawStatus: "completed", To: testLine.PhoneNumber})
	require.ErrorIs(t, err, ErrMissingCallID)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, sched.scheduled())
}

func TestHandleStatusEvent_UnknownDestination(t *testing.T) {
	ing, store, sched := newTestIngestor(t)

	_, err := ing.HandleStatusEvent(context.Background(), StatusEvent{
		CallID:          "CA_unknown",
		RawStatus:       "completed",
		DurationSeconds: intPtr(30),
		From:            "+15551234567",
		To:              "+15559999999",
	})
	require.ErrorIs(t, err, ErrVoiceLineNotFound)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, sched.scheduled())
}

func TestHandleStatusEvent_CreatesRecordOnFirstEvent(t *testing.T) {
	ing, store, sched := newTestIngestor(t)

	ack, err := ing.HandleStatusEvent(context.Background(), StatusEvent{
		CallID:    "CA1",
		RawStatus: "ringing",
		From:      "+15551234567",
		To:        "+1 (555) 000-1111",
	})
	require.NoError(t, err)
	assert.True(t, ack.Created)
	assert.False(t, ack.Scheduled)
	assert.Equal(t, StatusInitiated, ack.Status)

	rec, err := store.GetByProviderID(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Equal(t, "line-1", rec.VoiceLineID)
	assert.Equal(t, "acct-1", rec.AccountID)
	assert.Equal(t, DirectionInbound, rec.Direction)
	assert.Nil(t, rec.EndedAt)
	assert.Empty(t, sched.scheduled())
}

func TestHandleStatusEvent_CompletedSchedulesOnce(t *testing.T) {
	ing, store, sched := newTestIngestor(t)
	ctx := context.Background()

	_, err := ing.HandleStatusEvent(ctx, StatusEvent{CallID: "CA2", RawStatus: "in-progress", To: testLine.PhoneNumber})
	require.NoError(t, err)
	assert.Empty(t, sched.scheduled())

	ack, err := ing.HandleStatusEvent(ctx, StatusEvent{
		CallID:          "CA2",
		RawStatus:       "Completed",
		DurationSeconds: intPtr(90),
		To:              testLine.PhoneNumber,
	})
	require.NoError(t, err)
	assert.False(t, ack.Created)
	assert.True(t, ack.Scheduled)
	assert.Equal(t, []string{"CA2"}, sched.scheduled())

	rec, err := store.GetByProviderID(ctx, "CA2")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, 90, *rec.DurationSeconds)
	require.NotNil(t, rec.EndedAt)
	assert.Equal(t, time.Date(2025, 3, 14, 15, 5, 0, 0, time.UTC), *rec.EndedAt)
}

func TestHandleStatusEvent_PositiveDurationSchedulesForAnyStatus(t *testing.T) {
	ing, _, sched := newTestIngestor(t)

	ack, err := ing.HandleStatusEvent(context.Background(), StatusEvent{
		CallID:          "CA3",
		RawStatus:       "no-answer",
		DurationSeconds: intPtr(4),
		To:              testLine.PhoneNumber,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, ack.Status)
	assert.True(t, ack.Scheduled)
	assert.Equal(t, []string{"CA3"}, sched.scheduled())
}

func TestHandleStatusEvent_ZeroDurationFailedDoesNotSchedule(t *testing.T) {
	ing, _, sched := newTestIngestor(t)

	ack, err := ing.HandleStatusEvent(context.Background(), StatusEvent{
		CallID:          "CA4",
		RawStatus:       "busy",
		DurationSeconds: intPtr(0),
		To:              testLine.PhoneNumber,
	})
	require.NoError(t, err)
	assert.False(t, ack.Scheduled)
	assert.Empty(t, sched.scheduled())
}

func TestHandleStatusEvent_SchedulerErrorIsSwallowed(t *testing.T) {
	ing, store, sched := newTestIngestor(t)
	sched.err = errors.New("queue down")

	ack, err := ing.HandleStatusEvent(context.Background(), StatusEvent{
		CallID:    "CA5",
		RawStatus: "completed",
		To:        testLine.PhoneNumber,
	})
	require.NoError(t, err)
	assert.False(t, ack.Scheduled)

	rec, err := store.GetByProviderID(context.Background(), "CA5")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestHandleStatusEvent_KeepsDurationWhenAbsent(t *testing.T) {
	ing, store, _ := newTestIngestor(t)
	ctx := context.Background()

	_, err := ing.HandleStatusEvent(ctx, StatusEvent{CallID: "CA6", RawStatus: "in-progress", DurationSeconds: intPtr(12), To: testLine.PhoneNumber})
	require.NoError(t, err)
	_, err = ing.HandleStatusEvent(ctx, StatusEvent{CallID: "CA6", RawStatus: "weird-status", To: testLine.PhoneNumber})
	require.NoError(t, err)

	rec, err := store.GetByProviderID(ctx, "CA6")
	require.NoError(t, err)
	assert.Equal(t, StatusInitiated, rec.Status)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, 12, *rec.DurationSeconds)
}
