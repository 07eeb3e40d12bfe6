package calls

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/callsync/internal/phone"
)

// MemoryStore is an in-process Store used in development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	calls map[string]*CallRecord
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory call store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls: make(map[string]*CallRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func copyRecord(rec *CallRecord) *CallRecord {
	cp := *rec
	if rec.DurationSeconds != nil {
		d := *rec.DurationSeconds
		cp.DurationSeconds = &d
	}
	if rec.ConversationPayload != nil {
		cp.ConversationPayload = append([]byte(nil), rec.ConversationPayload...)
	}
	return &cp
}

// Put seeds a record, overwriting any existing one.
func (s *MemoryStore) Put(rec *CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.calls[rec.ProviderCallID] = copyRecord(rec)
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// GetByProviderID implements Store.
func (s *MemoryStore) GetByProviderID(ctx context.Context, providerCallID string) (*CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.calls[providerCallID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return copyRecord(rec), nil
}

// CreateIfAbsent implements Store.
func (s *MemoryStore) CreateIfAbsent(ctx context.Context, rec *CallRecord) (*CallRecord, bool, error) {
	if rec == nil || rec.ProviderCallID == "" {
		return nil, false, ErrMissingCallID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.calls[rec.ProviderCallID]; ok {
		return copyRecord(existing), false, nil
	}
	stored := copyRecord(rec)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.calls[stored.ProviderCallID] = stored
	return copyRecord(stored), true, nil
}

// UpdateLifecycle implements Store.
func (s *MemoryStore) UpdateLifecycle(ctx context.Context, providerCallID string, upd LifecycleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[providerCallID]
	if !ok {
		return ErrCallNotFound
	}
	rec.Status = upd.Status
	if upd.DurationSeconds != nil {
		d := *upd.DurationSeconds
		rec.DurationSeconds = &d
	}
	if upd.EndedAt != nil {
		t := *upd.EndedAt
		rec.EndedAt = &t
	}
	rec.UpdatedAt = s.now()
	return nil
}

// ApplyEnrichment implements Store.
func (s *MemoryStore) ApplyEnrichment(ctx context.Context, providerCallID string, e Enrichment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[providerCallID]
	if !ok || rec.ExternalConversationID != "" {
		return false, nil
	}
	rec.ExternalConversationID = e.ExternalConversationID
	rec.Transcript = e.Transcript
	rec.RecordingRef = e.RecordingRef
	rec.ConversationPayload = append([]byte(nil), e.Payload...)
	rec.UpdatedAt = s.now()
	return true, nil
}

// SetLeadID implements Store.
func (s *MemoryStore) SetLeadID(ctx context.Context, providerCallID, leadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[providerCallID]
	if !ok {
		return ErrCallNotFound
	}
	rec.LeadID = leadID
	return nil
}

// MarkNotificationSent implements Store.
func (s *MemoryStore) MarkNotificationSent(ctx context.Context, providerCallID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.calls[providerCallID]
	if !ok {
		return ErrCallNotFound
	}
	t := at
	rec.NotificationSentAt = &t
	return nil
}

// StaticVoiceLines resolves voice lines from a fixed list.
type StaticVoiceLines struct {
	lines []VoiceLine
}

// NewStaticVoiceLines constructs a resolver backed by an in-memory list.
func NewStaticVoiceLines(lines ...VoiceLine) *StaticVoiceLines {
	return &StaticVoiceLines{lines: append([]VoiceLine(nil), lines...)}
}

// FindByNumber implements VoiceLineStore.
func (s *StaticVoiceLines) FindByNumber(ctx context.Context, number string) (*VoiceLine, error) {
	digits := phone.Digits(number)
	if s == nil || digits == "" {
		return nil, ErrVoiceLineNotFound
	}
	for i := range s.lines {
		if phone.Digits(s.lines[i].PhoneNumber) == digits {
			line := s.lines[i]
			return &line, nil
		}
	}
	return nil, ErrVoiceLineNotFound
}

// GetByID implements VoiceLineStore.
func (s *StaticVoiceLines) GetByID(ctx context.Context, id string) (*VoiceLine, error) {
	if s == nil {
		return nil, ErrVoiceLineNotFound
	}
	for i := range s.lines {
		if s.lines[i].ID == id {
			line := s.lines[i]
			return &line, nil
		}
	}
	return nil, ErrVoiceLineNotFound
}
