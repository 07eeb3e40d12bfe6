package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/callsync/internal/phone"
)

// PgxPool is the subset of pgxpool.Pool the repository uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool PgxPool
}

// NewPostgresRepository initializes a repo backed by pgx.
func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

const leadColumns = `id::text, account_id, name, COALESCE(email, ''), COALESCE(phone, ''), source, status, last_contacted_at, created_at`

func scanLead(row pgx.Row) (*Lead, error) {
	var lead Lead
	if err := row.Scan(
		&lead.ID,
		&lead.AccountID,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.Source,
		&lead.Status,
		&lead.LastContactedAt,
		&lead.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &lead, nil
}

// FindByPhoneSuffix implements Repository.
func (r *PostgresRepository) FindByPhoneSuffix(ctx context.Context, accountID, number string) (*Lead, error) {
	suffix := phone.Suffix(number, 10)
	if suffix == "" {
		return nil, ErrLeadNotFound
	}
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE account_id = $1
		  AND right(regexp_replace(COALESCE(phone, ''), '\D', '', 'g'), 10) = $2
		ORDER BY created_at
		LIMIT 1
	`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, accountID, suffix))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select by phone failed: %w", err)
	}
	return lead, nil
}

// Create inserts a new row.
func (r *PostgresRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = StatusNew
	}
	id := uuid.New()
	query := `
		INSERT INTO leads (id, account_id, name, email, phone, source, status, last_contacted_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query,
		id,
		req.AccountID,
		strings.TrimSpace(req.Name),
		req.Email,
		req.Phone,
		req.Source,
		status,
		req.LastContactedAt,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}

	return &Lead{
		ID:              id.String(),
		AccountID:       req.AccountID,
		Name:            strings.TrimSpace(req.Name),
		Email:           req.Email,
		Phone:           req.Phone,
		Source:          req.Source,
		Status:          status,
		LastContactedAt: req.LastContactedAt,
		CreatedAt:       createdAt,
	}, nil
}

// AppendNote implements Repository.
func (r *PostgresRepository) AppendNote(ctx context.Context, leadID, content string) (*Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyNote
	}
	id := uuid.New()
	query := `
		INSERT INTO lead_notes (id, lead_id, content)
		VALUES ($1, $2::uuid, $3)
		RETURNING created_at
	`
	var createdAt time.Time
	if err := r.pool.QueryRow(ctx, query, id, leadID, content).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("leads: insert note failed: %w", err)
	}
	return &Note{ID: id.String(), LeadID: leadID, Content: content, CreatedAt: createdAt}, nil
}

// Touch implements Repository.
func (r *PostgresRepository) Touch(ctx context.Context, leadID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE leads SET last_contacted_at = $2, updated_at = now() WHERE id = $1::uuid`, leadID, at)
	if err != nil {
		return fmt.Errorf("leads: touch failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// GetByID fetches a lead.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1::uuid`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// ListNotes returns a lead's notes, oldest first.
func (r *PostgresRepository) ListNotes(ctx context.Context, leadID string) ([]*Note, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, lead_id::text, content, created_at
		FROM lead_notes
		WHERE lead_id = $1::uuid
		ORDER BY created_at
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("leads: list notes failed: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.LeadID, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("leads: scan note failed: %w", err)
		}
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list notes failed: %w", err)
	}
	return notes, nil
}
