// Package assignment routes newly captured leads to exactly one destination.
//
// Each lead.created delivery runs the full pipeline: load the lead, rank the
// funnel's rules, rotate ties, check organization state and rule caps, then
// move the lead out of status new with a conditional update. The conditional
// update is the only arbiter between concurrent deliveries of the same event.
package assignment

import (
	"context"
	"errors"
	"time"

	"leadflow_backend/internal/caps"
	"leadflow_backend/internal/routing"

	"github.com/google/uuid"
)

var (
	// ErrLeadNotFound is returned when the lead referenced by an event does not exist.
	ErrLeadNotFound = errors.New("lead not found")
	// ErrStatusConflict is returned when a conditional update found the lead no longer in status new.
	ErrStatusConflict = errors.New("lead status changed concurrently")
)

const (
	StatusNew        = "new"
	StatusAssigned   = "assigned"
	StatusUnassigned = "unassigned"
)

const (
	OutcomeAssigned       = "assigned"
	OutcomeUnassigned     = "unassigned"
	OutcomeSkipped        = "skipped"
	OutcomeAlreadyHandled = "already_handled"
)

// Lead is the assignment view of a captured lead.
type Lead struct {
	ID             uuid.UUID
	FunnelID       string
	ZipCode        string
	Status         string
	OrganizationID *uuid.UUID
	AssignedUserID *uuid.UUID
	RuleID         *uuid.UUID
	AssignedAt     *time.Time
	CreatedAt      time.Time
}

// AssignParams describes the new -> assigned transition.
type AssignParams struct {
	LeadID     uuid.UUID
	OrgID      uuid.UUID
	UserID     *uuid.UUID
	RuleID     uuid.UUID
	AssignedAt time.Time
}

// Outcome reports what Process did with a lead.
type Outcome struct {
	Status string
	RuleID *uuid.UUID
	OrgID  *uuid.UUID
	UserID *uuid.UUID
	Reason string
}

// LeadRepository persists lead state transitions. Assign and MarkUnassigned
// must only succeed while the lead is in status new and return
// ErrStatusConflict otherwise.
type LeadRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Lead, error)
	Assign(ctx context.Context, params AssignParams) error
	MarkUnassigned(ctx context.Context, id uuid.UUID, reason string) error
}

// RuleSource loads the active rules that may apply to a funnel.
type RuleSource interface {
	ListActiveRules(ctx context.Context, funnelID string) ([]routing.Rule, error)
}

// RuleProvider is a possibly cached RuleSource.
type RuleProvider interface {
	Get(ctx context.Context, funnelID string) ([]routing.Rule, error)
}

// OrgDirectory answers organization state questions.
type OrgDirectory interface {
	IsActive(ctx context.Context, orgID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, orgID, userID uuid.UUID) (bool, error)
}

// CapChecker reserves cap slots for rules.
type CapChecker interface {
	CheckAndIncrement(ctx context.Context, ruleID string, dailyCap, monthlyCap *int64) (caps.Decision, error)
	Release(ctx context.Context, d caps.Decision) error
}
