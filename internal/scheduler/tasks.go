package scheduler

import (
	"encoding/json"
	"fmt"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/webhook"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskLeadCreated = "lead.created"

const TaskWebhookDispatch = "webhooks.dispatch"

type LeadCreatedPayload struct {
	LeadID   string `json:"leadId"`
	FunnelID string `json:"funnelId"`
	Zip      string `json:"zip,omitempty"`
}

func NewLeadCreatedTask(evt events.LeadCreated) (*asynq.Task, error) {
	data, err := json.Marshal(LeadCreatedPayload{
		LeadID:   evt.LeadID.String(),
		FunnelID: evt.FunnelID,
		Zip:      evt.ZipCode,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLeadCreated, data), nil
}

// ParseLeadCreatedTask rebuilds the event carried by a lead.created task.
func ParseLeadCreatedTask(task *asynq.Task) (events.LeadCreated, error) {
	var payload LeadCreatedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return events.LeadCreated{}, err
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return events.LeadCreated{}, fmt.Errorf("invalid lead id %q: %w", payload.LeadID, err)
	}
	if payload.FunnelID == "" {
		return events.LeadCreated{}, fmt.Errorf("lead %s: missing funnel id", leadID)
	}

	return events.LeadCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		FunnelID:  payload.FunnelID,
		ZipCode:   payload.Zip,
	}, nil
}

func NewWebhookDispatchTask(env webhook.Envelope) (*asynq.Task, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookDispatch, data), nil
}

func ParseWebhookDispatchTask(task *asynq.Task) (webhook.Envelope, error) {
	var env webhook.Envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		return webhook.Envelope{}, err
	}
	if env.ID == "" || env.Type == "" {
		return webhook.Envelope{}, fmt.Errorf("webhook envelope missing id or type")
	}
	return env, nil
}
