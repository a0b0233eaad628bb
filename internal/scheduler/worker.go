package scheduler

import (
	"context"
	"errors"
	"fmt"

	"leadflow_backend/internal/assignment"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/webhook"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// LeadProcessor assigns one created lead.
type LeadProcessor interface {
	Process(ctx context.Context, evt events.LeadCreated) (assignment.Outcome, error)
}

// EnvelopeDispatcher delivers one webhook envelope.
type EnvelopeDispatcher interface {
	DispatchEnvelope(ctx context.Context, env webhook.Envelope) (webhook.DispatchReport, error)
}

// TaskHandlers routes queue tasks to the assignment and webhook subsystems.
type TaskHandlers struct {
	leads    LeadProcessor
	webhooks EnvelopeDispatcher
	log      *logger.Logger
}

func NewTaskHandlers(leads LeadProcessor, webhooks EnvelopeDispatcher, log *logger.Logger) *TaskHandlers {
	return &TaskHandlers{leads: leads, webhooks: webhooks, log: log}
}

// Register mounts every handler on mux.
func (h *TaskHandlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskLeadCreated, h.HandleLeadCreated)
	mux.HandleFunc(TaskWebhookDispatch, h.HandleWebhookDispatch)
}

// HandleLeadCreated runs assignment. Returning an error makes the queue redeliver.
func (h *TaskHandlers) HandleLeadCreated(ctx context.Context, task *asynq.Task) error {
	evt, err := ParseLeadCreatedTask(task)
	if err != nil {
		return fmt.Errorf("parse %s: %v: %w", TaskLeadCreated, err, asynq.SkipRetry)
	}

	outcome, err := h.leads.Process(withTaskID(ctx), evt)
	if errors.Is(err, assignment.ErrLeadNotFound) {
		return fmt.Errorf("lead %s: %v: %w", evt.LeadID, err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	h.log.Debug("lead task processed", "lead_id", evt.LeadID, "outcome", outcome.Status)
	return nil
}

// HandleWebhookDispatch fans an envelope out to its subscribers.
func (h *TaskHandlers) HandleWebhookDispatch(ctx context.Context, task *asynq.Task) error {
	env, err := ParseWebhookDispatchTask(task)
	if err != nil {
		return fmt.Errorf("parse %s: %v: %w", TaskWebhookDispatch, err, asynq.SkipRetry)
	}

	report, err := h.webhooks.DispatchEnvelope(withTaskID(ctx), env)
	if err != nil {
		return err
	}

	h.log.Debug("webhook task processed",
		"event_id", report.EventID,
		"targets", report.Targets,
		"delivered", report.Delivered,
		"exhausted", report.Exhausted,
	)
	return nil
}

func withTaskID(ctx context.Context) context.Context {
	if id, ok := asynq.GetTaskID(ctx); ok {
		return context.WithValue(ctx, logger.TaskIDKey, id)
	}
	return ctx
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, handlers *TaskHandlers, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("task failed", "task", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
		}),
	})

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	return &Worker{server: server, mux: mux, log: log}, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
