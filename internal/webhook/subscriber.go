package webhook

import (
	"context"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

// Enqueuer hands an envelope to the task queue for asynchronous dispatch.
type Enqueuer interface {
	EnqueueWebhookDispatch(ctx context.Context, env Envelope) error
}

// DispatchedEvents are the events forwarded to webhooks.
var DispatchedEvents = []string{events.LeadAssignedName, events.LeadUnassignedName}

// Subscribe forwards DispatchedEvents from bus to the dispatch queue. The
// envelope id is fixed here, so queue redeliveries reuse the same event id.
func Subscribe(bus events.Bus, enqueuer Enqueuer, log *logger.Logger) {
	handler := events.HandlerFunc(func(ctx context.Context, evt events.Event) error {
		env, err := NewEnvelope(evt.EventName(), evt, evt.OccurredAt())
		if err != nil {
			return err
		}
		if err := enqueuer.EnqueueWebhookDispatch(ctx, env); err != nil {
			log.WithContext(ctx).Error("failed to enqueue webhook dispatch", "event", env.Type, "event_id", env.ID, "error", err)
			return err
		}
		return nil
	})

	for _, name := range DispatchedEvents {
		bus.Subscribe(name, handler)
	}
}
