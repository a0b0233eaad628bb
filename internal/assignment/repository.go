package assignment

import (
	"context"
	"errors"
	"fmt"

	"leadflow_backend/internal/routing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres implementation of LeadRepository, RuleSource and OrgDirectory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new assignment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ LeadRepository = (*Repository)(nil)
	_ RuleSource     = (*Repository)(nil)
	_ OrgDirectory   = (*Repository)(nil)
)

// Get loads a lead by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Lead, error) {
	var lead Lead
	var zip *string
	err := r.pool.QueryRow(ctx, `
		SELECT id, funnel_id, zip_code, status, organization_id, assigned_user_id, rule_id, assigned_at, created_at
		FROM leads
		WHERE id = $1
	`, id).Scan(
		&lead.ID, &lead.FunnelID, &zip, &lead.Status, &lead.OrganizationID,
		&lead.AssignedUserID, &lead.RuleID, &lead.AssignedAt, &lead.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrLeadNotFound
	}
	if err != nil {
		return Lead{}, fmt.Errorf("get lead %s: %w", id, err)
	}
	if zip != nil {
		lead.ZipCode = *zip
	}
	return lead, nil
}

// Assign moves a lead from new to assigned.
func (r *Repository) Assign(ctx context.Context, params AssignParams) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET status = 'assigned', organization_id = $2, assigned_user_id = $3, rule_id = $4,
			assigned_at = $5, updated_at = now()
		WHERE id = $1 AND status = 'new'
	`, params.LeadID, params.OrgID, params.UserID, params.RuleID, params.AssignedAt)
	if err != nil {
		return fmt.Errorf("assign lead %s: %w", params.LeadID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkUnassigned moves a lead from new to unassigned with a reason.
func (r *Repository) MarkUnassigned(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET status = 'unassigned', unassigned_reason = $2, updated_at = now()
		WHERE id = $1 AND status = 'new'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark lead %s unassigned: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListActiveRules returns active rules for funnelID plus wildcard rules.
func (r *Repository) ListActiveRules(ctx context.Context, funnelID string) ([]routing.Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, funnel_id, zip_patterns, center_zip, radius_miles, priority,
			daily_cap, monthly_cap, target_org_id, target_user_id, is_active
		FROM assignment_rules
		WHERE is_active = true AND (funnel_id = $1 OR funnel_id = '*')
		ORDER BY priority, id
	`, funnelID)
	if err != nil {
		return nil, fmt.Errorf("list rules for funnel %s: %w", funnelID, err)
	}
	defer rows.Close()

	var rules []routing.Rule
	for rows.Next() {
		var rule routing.Rule
		var centerZip *string
		if err := rows.Scan(
			&rule.ID, &rule.FunnelID, &rule.ZipPatterns, &centerZip, &rule.RadiusMiles, &rule.Priority,
			&rule.DailyCap, &rule.MonthlyCap, &rule.TargetOrgID, &rule.TargetUserID, &rule.Active,
		); err != nil {
			return nil, err
		}
		if centerZip != nil {
			rule.CenterZip = *centerZip
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// IsActive reports whether the organization exists and is active.
func (r *Repository) IsActive(ctx context.Context, orgID uuid.UUID) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM organizations WHERE id = $1`, orgID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("organization %s state: %w", orgID, err)
	}
	return active, nil
}

// IsMember reports whether userID belongs to orgID.
func (r *Repository) IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error) {
	var member bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM organization_members WHERE organization_id = $1 AND user_id = $2)
	`, orgID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("organization %s membership: %w", orgID, err)
	}
	return member, nil
}
