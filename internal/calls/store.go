package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/callsync/internal/phone"
)

// Store persists call records. All lookups are keyed by the provider call id.
type Store interface {
	GetByProviderID(ctx context.Context, providerCallID string) (*CallRecord, error)
	// CreateIfAbsent inserts rec unless a record with the same provider call id
	// exists, and returns whichever record is stored.
	CreateIfAbsent(ctx context.Context, rec *CallRecord) (*CallRecord, bool, error)
	UpdateLifecycle(ctx context.Context, providerCallID string, upd LifecycleUpdate) error
	// ApplyEnrichment writes enrichment fields only while the record has no
	// external conversation id. It reports whether the write happened.
	ApplyEnrichment(ctx context.Context, providerCallID string, e Enrichment) (bool, error)
	SetLeadID(ctx context.Context, providerCallID, leadID string) error
	MarkNotificationSent(ctx context.Context, providerCallID string, at time.Time) error
}

// VoiceLineStore resolves configured voice lines.
type VoiceLineStore interface {
	FindByNumber(ctx context.Context, number string) (*VoiceLine, error)
	GetByID(ctx context.Context, id string) (*VoiceLine, error)
}

// PgxPool is the subset of pgxpool.Pool the stores use.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore stores call records in the calls table.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgresStore initializes a store backed by pgx.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

const callColumns = `
	id::text, provider_call_id, COALESCE(voice_line_id::text, ''), COALESCE(account_id, ''),
	status, direction, from_number, to_number, duration_seconds, ended_at,
	created_at, updated_at,
	COALESCE(external_conversation_id, ''), COALESCE(transcript, ''), COALESCE(recording_ref, ''),
	conversation_payload, notification_sent_at, COALESCE(lead_id::text, '')`

func scanCall(row pgx.Row) (*CallRecord, error) {
	var rec CallRecord
	var status, direction string
	if err := row.Scan(
		&rec.ID,
		&rec.ProviderCallID,
		&rec.VoiceLineID,
		&rec.AccountID,
		&status,
		&direction,
		&rec.FromNumber,
		&rec.ToNumber,
		&rec.DurationSeconds,
		&rec.EndedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ExternalConversationID,
		&rec.Transcript,
		&rec.RecordingRef,
		&rec.ConversationPayload,
		&rec.NotificationSentAt,
		&rec.LeadID,
	); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Direction = Direction(direction)
	return &rec, nil
}

// GetByProviderID implements Store.
func (s *PostgresStore) GetByProviderID(ctx context.Context, providerCallID string) (*CallRecord, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE provider_call_id = $1`
	rec, err := scanCall(s.pool.QueryRow(ctx, query, providerCallID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("calls: select call: %w", err)
	}
	return rec, nil
}

// CreateIfAbsent implements Store.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, rec *CallRecord) (*CallRecord, bool, error) {
	if rec == nil || rec.ProviderCallID == "" {
		return nil, false, ErrMissingCallID
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	query := `
		INSERT INTO calls (id, provider_call_id, voice_line_id, account_id, status, direction, from_number, to_number)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_call_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.ProviderCallID,
		rec.VoiceLineID,
		rec.AccountID,
		string(rec.Status),
		string(rec.Direction),
		rec.FromNumber,
		rec.ToNumber,
	)
	if err != nil {
		return nil, false, fmt.Errorf("calls: insert call: %w", err)
	}
	stored, err := s.GetByProviderID(ctx, rec.ProviderCallID)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() == 1, nil
}

// UpdateLifecycle implements Store.
func (s *PostgresStore) UpdateLifecycle(ctx context.Context, providerCallID string, upd LifecycleUpdate) error {
	query := `
		UPDATE calls
		SET status = $2,
			duration_seconds = COALESCE($3, duration_seconds),
			ended_at = COALESCE($4, ended_at),
			updated_at = now()
		WHERE provider_call_id = $1
	`
	tag, err := s.pool.Exec(ctx, query, providerCallID, string(upd.Status), upd.DurationSeconds, upd.EndedAt)
	if err != nil {
		return fmt.Errorf("calls: update lifecycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCallNotFound
	}
	return nil
}

// ApplyEnrichment implements Store.
func (s *PostgresStore) ApplyEnrichment(ctx context.Context, providerCallID string, e Enrichment) (bool, error) {
	query := `
		UPDATE calls
		SET external_conversation_id = $2,
			transcript = $3,
			recording_ref = NULLIF($4, ''),
			conversation_payload = $5,
			updated_at = now()
		WHERE provider_call_id = $1 AND external_conversation_id IS NULL
	`
	tag, err := s.pool.Exec(ctx, query, providerCallID, e.ExternalConversationID, e.Transcript, e.RecordingRef, []byte(e.Payload))
	if err != nil {
		return false, fmt.Errorf("calls: apply enrichment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetLeadID implements Store.
func (s *PostgresStore) SetLeadID(ctx context.Context, providerCallID, leadID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE calls SET lead_id = $2::uuid, updated_at = now() WHERE provider_call_id = $1`, providerCallID, leadID)
	if err != nil {
		return fmt.Errorf("calls: set lead: %w", err)
	}
	return nil
}

// MarkNotificationSent implements Store.
func (s *PostgresStore) MarkNotificationSent(ctx context.Context, providerCallID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE calls SET notification_sent_at = $2, updated_at = now() WHERE provider_call_id = $1`, providerCallID, at)
	if err != nil {
		return fmt.Errorf("calls: mark notification sent: %w", err)
	}
	return nil
}

// PostgresVoiceLines reads the voice_lines table.
type PostgresVoiceLines struct {
	pool PgxPool
}

// NewPostgresVoiceLines initializes a voice line lookup backed by pgx.
func NewPostgresVoiceLines(pool PgxPool) *PostgresVoiceLines {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &PostgresVoiceLines{pool: pool}
}

const voiceLineColumns = `id::text, account_id, name, phone_number, notify_enabled, COALESCE(notify_email, '')`

func scanVoiceLine(row pgx.Row) (*VoiceLine, error) {
	var line VoiceLine
	if err := row.Scan(&line.ID, &line.AccountID, &line.Name, &line.PhoneNumber, &line.NotifyEnabled, &line.NotifyEmail); err != nil {
		return nil, err
	}
	return &line, nil
}

// FindByNumber matches on digits only so "+1 (555) 000-1111" and "+15550001111" resolve alike.
func (s *PostgresVoiceLines) FindByNumber(ctx context.Context, number string) (*VoiceLine, error) {
	digits := phone.Digits(number)
	if digits == "" {
		return nil, ErrVoiceLineNotFound
	}
	query := `
		SELECT ` + voiceLineColumns + `
		FROM voice_lines
		WHERE regexp_replace(phone_number, '\D', '', 'g') = $1
		ORDER BY created_at
		LIMIT 1
	`
	line, err := scanVoiceLine(s.pool.QueryRow(ctx, query, digits))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoiceLineNotFound
		}
		return nil, fmt.Errorf("calls: select voice line: %w", err)
	}
	return line, nil
}

// GetByID implements VoiceLineStore.
func (s *PostgresVoiceLines) GetByID(ctx context.Context, id string) (*VoiceLine, error) {
	query := `SELECT ` + voiceLineColumns + ` FROM voice_lines WHERE id = $1::uuid`
	line, err := scanVoiceLine(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVoiceLineNotFound
		}
		return nil, fmt.Errorf("calls: select voice line: %w", err)
	}
	return line, nil
}
