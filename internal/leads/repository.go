package leads

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/callsync/internal/phone"
)

// Repository defines the interface for lead storage
type Repository interface {
	// FindByPhoneSuffix returns the oldest lead in the account whose stored
	// phone ends with the same 10 digits as number.
	FindByPhoneSuffix(ctx context.Context, accountID, number string) (*Lead, error)
	Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error)
	AppendNote(ctx context.Context, leadID, content string) (*Note, error)
	Touch(ctx context.Context, leadID string, at time.Time) error
	GetByID(ctx context.Context, id string) (*Lead, error)
	ListNotes(ctx context.Context, leadID string) ([]*Note, error)
}

// InMemoryRepository is a Repository backed by maps, used in development and tests
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	order []string
	notes map[string][]*Note
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
		notes: make(map[string][]*Note),
	}
}

// FindByPhoneSuffix implements Repository.
func (r *InMemoryRepository) FindByPhoneSuffix(ctx context.Context, accountID, number string) (*Lead, error) {
	if phone.Suffix(number, 10) == "" {
		return nil, ErrLeadNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		lead := r.leads[id]
		if lead.AccountID != accountID {
			continue
		}
		if phone.SameSubscriber(lead.Phone, number) {
			cp := *lead
			return &cp, nil
		}
	}
	return nil, ErrLeadNotFound
}

// Create implements Repository.
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = StatusNew
	}
	lead := &Lead{
		ID:        uuid.New().String(),
		AccountID: req.AccountID,
		Name:      strings.TrimSpace(req.Name),
		Email:     req.Email,
		Phone:     req.Phone,
		Source:    req.Source,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if req.LastContactedAt != nil {
		t := *req.LastContactedAt
		lead.LastContactedAt = &t
	}

	r.mu.Lock()
	r.leads[lead.ID] = lead
	r.order = append(r.order, lead.ID)
	r.mu.Unlock()

	cp := *lead
	return &cp, nil
}

// AppendNote implements Repository.
func (r *InMemoryRepository) AppendNote(ctx context.Context, leadID, content string) (*Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyNote
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.leads[leadID]; !ok {
		return nil, ErrLeadNotFound
	}
	note := &Note{ID: uuid.New().String(), LeadID: leadID, Content: content, CreatedAt: time.Now().UTC()}
	r.notes[leadID] = append(r.notes[leadID], note)
	cp := *note
	return &cp, nil
}

// Touch implements Repository.
func (r *InMemoryRepository) Touch(ctx context.Context, leadID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	t := at
	lead.LastContactedAt = &t
	return nil
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	cp := *lead
	return &cp, nil
}

// ListNotes returns a lead's notes, oldest first.
func (r *InMemoryRepository) ListNotes(ctx context.Context, leadID string) ([]*Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.leads[leadID]; !ok {
		return nil, ErrLeadNotFound
	}
	out := make([]*Note, 0, len(r.notes[leadID]))
	for _, n := range r.notes[leadID] {
		cp := *n
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Count returns the number of stored leads.
func (r *InMemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.leads)
}
