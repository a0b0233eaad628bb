package scheduler

import (
	"context"
	"time"

	"leadflow_backend/internal/capture"
	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

const (
	defaultDeliveryCleanupInterval = time.Hour
	defaultRequeueInterval         = 5 * time.Minute
	defaultRequeueGrace            = 10 * time.Minute
	requeueBatchSize               = 100
)

// DeliveryPurger deletes audit rows past their expiry.
type DeliveryPurger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// DeliveryCleanup periodically removes expired webhook delivery records.
type DeliveryCleanup struct {
	purger   DeliveryPurger
	log      *logger.Logger
	interval time.Duration
	now      func() time.Time
}

func NewDeliveryCleanup(purger DeliveryPurger, log *logger.Logger, interval time.Duration) *DeliveryCleanup {
	if interval <= 0 {
		interval = defaultDeliveryCleanupInterval
	}
	return &DeliveryCleanup{purger: purger, log: log, interval: interval, now: time.Now}
}

func (c *DeliveryCleanup) Run(ctx context.Context) {
	if c == nil || c.purger == nil {
		return
	}
	runEvery(ctx, c.interval, c.cleanup)
}

func (c *DeliveryCleanup) cleanup(ctx context.Context) {
	deleted, err := c.purger.DeleteExpired(ctx, c.now())
	if err != nil {
		c.log.Warn("webhook delivery cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		c.log.Info("webhook delivery cleanup deleted expired records", "deleted", deleted)
	}
}

// PendingLeadSource lists leads that are still waiting for assignment.
type PendingLeadSource interface {
	ListPending(ctx context.Context, cutoff time.Time, limit int) ([]capture.PendingLead, error)
}

// LeadEnqueuer schedules assignment of a lead.
type LeadEnqueuer interface {
	EnqueueLeadCreated(ctx context.Context, evt events.LeadCreated) error
}

// PendingLeadRequeue re-enqueues leads whose lead.created task never ran to
// completion, e.g. because the enqueue after capture failed or the task was
// archived after its last retry. Assignment is conditional on status new, so
// a lead enqueued twice is still assigned once.
type PendingLeadRequeue struct {
	source   PendingLeadSource
	queue    LeadEnqueuer
	log      *logger.Logger
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

func NewPendingLeadRequeue(source PendingLeadSource, queue LeadEnqueuer, log *logger.Logger, interval, grace time.Duration) *PendingLeadRequeue {
	if interval <= 0 {
		interval = defaultRequeueInterval
	}
	if grace <= 0 {
		grace = defaultRequeueGrace
	}
	return &PendingLeadRequeue{source: source, queue: queue, log: log, interval: interval, grace: grace, now: time.Now}
}

func (r *PendingLeadRequeue) Run(ctx context.Context) {
	if r == nil || r.source == nil {
		return
	}
	runEvery(ctx, r.interval, r.requeue)
}

func (r *PendingLeadRequeue) requeue(ctx context.Context) {
	leads, err := r.source.ListPending(ctx, r.now().Add(-r.grace), requeueBatchSize)
	if err != nil {
		r.log.Warn("pending lead scan failed", "error", err)
		return
	}

	requeued := 0
	for _, lead := range leads {
		err := r.queue.EnqueueLeadCreated(ctx, events.LeadCreated{
			BaseEvent: events.NewBaseEventAt(lead.CreatedAt),
			LeadID:    lead.ID,
			FunnelID:  lead.FunnelID,
			ZipCode:   lead.ZipCode,
		})
		if err != nil {
			r.log.Warn("pending lead requeue failed", "lead_id", lead.ID, "error", err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		r.log.Info("requeued pending leads", "count", requeued)
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
