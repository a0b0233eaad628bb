package webhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Delivery is one attempt to deliver one event to one webhook.
type Delivery struct {
	ID             string
	WebhookID      uuid.UUID
	DeliveredAt    time.Time
	EventID        string
	EventType      string
	RequestBody    string
	ResponseStatus *int
	ResponseBody   *string
	Success        bool
	Attempt        int
	Error          *string
	ExpiresAt      time.Time
}

// DeliveryRepository stores the delivery audit trail. Rows are never updated.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository creates a new delivery repository.
func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

// Record inserts one attempt.
func (r *DeliveryRepository) Record(ctx context.Context, d Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (
			id, webhook_id, delivered_at, event_id, event_type, request_body,
			response_status, response_body, success, attempt, error, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, d.ID, d.WebhookID, d.DeliveredAt, d.EventID, d.EventType, d.RequestBody,
		d.ResponseStatus, d.ResponseBody, d.Success, d.Attempt, d.Error, d.ExpiresAt)
	return err
}

// ListByWebhook returns the most recent attempts for a webhook.
func (r *DeliveryRepository) ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit int) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, webhook_id, delivered_at, event_id, event_type, request_body,
			response_status, response_body, success, attempt, error, expires_at
		FROM webhook_deliveries
		WHERE webhook_id = $1 AND expires_at > now()
		ORDER BY delivered_at DESC, id DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(
			&d.ID, &d.WebhookID, &d.DeliveredAt, &d.EventID, &d.EventType, &d.RequestBody,
			&d.ResponseStatus, &d.ResponseBody, &d.Success, &d.Attempt, &d.Error, &d.ExpiresAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteExpired removes attempts whose retention elapsed before now.
func (r *DeliveryRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_deliveries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
