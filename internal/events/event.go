// Package events defines the lead lifecycle events. The bus itself lives in
// platform/events; the aliases below let domain packages import one package.
package events

import (
	"time"

	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent   = events.NewBaseEvent
	NewBaseEventAt = events.NewBaseEventAt
)

// NewInMemoryBus returns the process-local bus used by cmd/worker.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

const (
	LeadCreatedName    = "lead.created"
	LeadAssignedName   = "lead.assigned"
	LeadUnassignedName = "lead.unassigned"
)

// LeadCreated is emitted by the capture path once a lead is persisted with status new.
// It travels through the task queue, so it may be delivered more than once.
type LeadCreated struct {
	BaseEvent
	LeadID   uuid.UUID `json:"leadId"`
	FunnelID string    `json:"funnelId"`
	ZipCode  string    `json:"zip,omitempty"`
}

func (e LeadCreated) EventName() string { return LeadCreatedName }

// LeadAssigned is published when a lead transitioned from new to assigned.
type LeadAssigned struct {
	BaseEvent
	LeadID           uuid.UUID  `json:"leadId"`
	FunnelID         string     `json:"funnelId"`
	AssignedOrgID    uuid.UUID  `json:"assignedOrgId"`
	AssignedUserID   *uuid.UUID `json:"assignedUserId,omitempty"`
	AssignmentRuleID uuid.UUID  `json:"assignmentRuleId"`
	AssignedAt       time.Time  `json:"assignedAt"`
}

func (e LeadAssigned) EventName() string { return LeadAssignedName }

// LeadUnassigned is published when no candidate rule could take the lead.
type LeadUnassigned struct {
	BaseEvent
	LeadID      uuid.UUID `json:"leadId"`
	FunnelID    string    `json:"funnelId"`
	ZipCode     string    `json:"zipCode,omitempty"`
	Reason      string    `json:"reason"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

func (e LeadUnassigned) EventName() string { return LeadUnassignedName }
