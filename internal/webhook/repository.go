// Package webhook delivers assignment events to external HTTP endpoints.
// It owns the webhook registry, the signed at-least-once dispatcher and the
// append-only delivery audit trail.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("webhook not found")

// AllEvents subscribes a webhook to every event type.
const AllEvents = "*"

// Config represents a registered webhook endpoint.
type Config struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	URL            string
	Secret         string
	Events         []string
	IsActive       bool
	CreatedAt      time.Time
}

// Subscribes reports whether the webhook wants eventType.
func (c Config) Subscribes(eventType string) bool {
	for _, e := range c.Events {
		if e == eventType || e == AllEvents {
			return true
		}
	}
	return false
}

// Repository provides data access for webhook configurations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new webhook repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GenerateSecret creates a random signing secret.
func GenerateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(bytes), nil
}

const configColumns = `id, organization_id, url, secret, events, is_active, created_at`

func scanConfig(row pgx.Row) (Config, error) {
	var cfg Config
	err := row.Scan(&cfg.ID, &cfg.OrganizationID, &cfg.URL, &cfg.Secret, &cfg.Events, &cfg.IsActive, &cfg.CreatedAt)
	return cfg, err
}

// Create registers a new webhook.
func (r *Repository) Create(ctx context.Context, orgID uuid.UUID, url, secret string, events []string) (Config, error) {
	cfg, err := scanConfig(r.pool.QueryRow(ctx, `
		INSERT INTO webhook_configs (organization_id, url, secret, events)
		VALUES ($1, $2, $3, $4)
		RETURNING `+configColumns, orgID, url, secret, events))
	if err != nil {
		return Config{}, fmt.Errorf("create webhook: %w", err)
	}
	return cfg, nil
}

// Get retrieves a webhook by ID within an organization.
func (r *Repository) Get(ctx context.Context, id, orgID uuid.UUID) (Config, error) {
	cfg, err := scanConfig(r.pool.QueryRow(ctx, `
		SELECT `+configColumns+`
		FROM webhook_configs
		WHERE id = $1 AND organization_id = $2
	`, id, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Config{}, ErrNotFound
	}
	return cfg, err
}

// ActiveForEvent returns every active webhook subscribed to eventType.
func (r *Repository) ActiveForEvent(ctx context.Context, eventType string) ([]Config, error) {
	return r.list(ctx, `
		SELECT `+configColumns+`
		FROM webhook_configs
		WHERE is_active = true AND (events @> ARRAY[$1::text] OR events @> ARRAY['*']::text[])
		ORDER BY created_at
	`, eventType)
}

// ListByOrganization returns all webhooks for an organization.
func (r *Repository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]Config, error) {
	return r.list(ctx, `
		SELECT `+configColumns+`
		FROM webhook_configs
		WHERE organization_id = $1
		ORDER BY created_at DESC
	`, orgID)
}

// Deactivate disables a webhook. Deliveries already in flight finish.
func (r *Repository) Deactivate(ctx context.Context, id, orgID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_configs SET is_active = false, updated_at = now()
		WHERE id = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Config, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}
