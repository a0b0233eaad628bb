// Package capture accepts lead form submissions from funnel pages, collapses
// duplicates and hands new leads to the assignment queue.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewLead is a submission ready to be persisted with status new.
type NewLead struct {
	ID             uuid.UUID
	FunnelID       string
	ZipCode        string
	Name           string
	Email          string
	Phone          string
	Message        string
	UTMSource      string
	UTMMedium      string
	UTMCampaign    string
	ClientIP       string
	IdempotencyKey string
}

// PendingLead is a lead still waiting for assignment.
type PendingLead struct {
	ID        uuid.UUID
	FunnelID  string
	ZipCode   string
	CreatedAt time.Time
}

// Repository persists captured leads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new capture repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores the lead with status new.
func (r *Repository) Insert(ctx context.Context, lead NewLead) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO leads (
			id, funnel_id, zip_code, status, name, email, phone, message,
			utm_source, utm_medium, utm_campaign, client_ip, idempotency_key
		) VALUES ($1, $2, $3, 'new', $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		lead.ID, lead.FunnelID, nullable(lead.ZipCode), lead.Name, lead.Email,
		nullable(lead.Phone), nullable(lead.Message),
		nullable(lead.UTMSource), nullable(lead.UTMMedium), nullable(lead.UTMCampaign),
		nullable(lead.ClientIP), lead.IdempotencyKey,
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

// ListPending returns leads created before cutoff that are still new, oldest first.
func (r *Repository) ListPending(ctx context.Context, cutoff time.Time, limit int) ([]PendingLead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, funnel_id, COALESCE(zip_code, ''), created_at
		FROM leads
		WHERE status = 'new' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending leads: %w", err)
	}
	defer rows.Close()

	var leads []PendingLead
	for rows.Next() {
		var l PendingLead
		if err := rows.Scan(&l.ID, &l.FunnelID, &l.ZipCode, &l.CreatedAt); err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	return leads, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
