package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/ids"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
	"leadflow_backend/platform/sanitize"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// MaxStoredBody caps request and response bodies kept in the audit trail.
const MaxStoredBody = 4 << 10

const recordTimeout = 5 * time.Second

var (
	DefaultRetrySchedule = []time.Duration{0, 30 * time.Second, 5 * time.Minute}
	DefaultTimeout       = 5 * time.Second
	DefaultRetention     = 30 * 24 * time.Hour
)

// ConfigSource lists the webhooks that should receive an event.
type ConfigSource interface {
	ActiveForEvent(ctx context.Context, eventType string) ([]Config, error)
}

// DeliveryRecorder appends attempts to the audit trail.
type DeliveryRecorder interface {
	Record(ctx context.Context, d Delivery) error
}

// Options tunes the dispatcher. Zero values fall back to defaults.
type Options struct {
	Timeout       time.Duration
	RetrySchedule []time.Duration
	MaxParallel   int
	RatePerSecond float64
	Retention     time.Duration
}

// Envelope is the JSON document POSTed to every webhook.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DispatchReport summarizes one fan-out.
type DispatchReport struct {
	EventID   string
	Targets   int
	Delivered int
	Exhausted int
}

// Dispatcher fans an event out to every subscribed webhook. Each webhook gets
// its own sequential retry sequence and all sequences start at once. MaxParallel
// bounds in-flight HTTP requests only; a sequence waiting out a backoff holds
// no slot.
type Dispatcher struct {
	configs    ConfigSource
	deliveries DeliveryRecorder
	opts       Options
	client     *http.Client
	pacer      *rate.Limiter
	inflight   *semaphore.Weighted
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	log        *logger.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(configs ConfigSource, deliveries DeliveryRecorder, opts Options, log *logger.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.RetrySchedule) == 0 {
		opts.RetrySchedule = DefaultRetrySchedule
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 16
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(1, int(opts.RatePerSecond)))
	}

	return &Dispatcher{
		configs:    configs,
		deliveries: deliveries,
		opts:       opts,
		client:     &http.Client{},
		pacer:      pacer,
		inflight:   semaphore.NewWeighted(int64(opts.MaxParallel)),
		sleep:      sleepContext,
		now:        time.Now,
		log:        log,
	}
}

// WithHTTPClient replaces the HTTP client. Intended for tests.
func (d *Dispatcher) WithHTTPClient(client *http.Client) *Dispatcher {
	d.client = client
	return d
}

// WithSleeper replaces the delay function used between attempts. Intended for tests.
func (d *Dispatcher) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Dispatcher {
	d.sleep = sleep
	return d
}

// NewEnvelope wraps data as a new event of eventType.
func NewEnvelope(eventType string, data any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	if at.IsZero() {
		at = time.Now()
	}
	return Envelope{
		ID:        ids.NewAt(at),
		Type:      eventType,
		Timestamp: at.UTC().Format(time.RFC3339),
		Data:      raw,
	}, nil
}

// Dispatch delivers data as a new eventType event.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, data any) (DispatchReport, error) {
	env, err := NewEnvelope(eventType, data, d.now())
	if err != nil {
		return DispatchReport{}, err
	}
	return d.DispatchEnvelope(ctx, env)
}

// DispatchEnvelope delivers env to every active webhook subscribed to its type
// and waits for all retry sequences to finish. Delivery failures are recorded
// and logged, never returned. An error is returned only when the targets could
// not be loaded or ctx ended before the sequences completed.
func (d *Dispatcher) DispatchEnvelope(ctx context.Context, env Envelope) (DispatchReport, error) {
	report := DispatchReport{EventID: env.ID}

	targets, err := d.configs.ActiveForEvent(ctx, env.Type)
	if err != nil {
		return report, fmt.Errorf("load webhooks for %s: %w", env.Type, err)
	}
	targets, err = scopeToOrganization(env, targets)
	if err != nil {
		return report, err
	}
	report.Targets = len(targets)
	if len(targets) == 0 {
		return report, nil
	}

	body, err := json.Marshal(env)
	if err != nil {
		return report, fmt.Errorf("marshal envelope: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, cfg := range targets {
		g.Go(func() error {
			delivered := d.deliver(ctx, cfg, env, body)

			mu.Lock()
			defer mu.Unlock()
			if delivered {
				report.Delivered++
			} else {
				report.Exhausted++
			}
			return nil
		})
	}
	_ = g.Wait()

	return report, ctx.Err()
}

// scopeToOrganization keeps only the assigned organization's webhooks for
// lead.assigned. Other events carry no owning organization and go to every
// subscriber.
func scopeToOrganization(env Envelope, targets []Config) ([]Config, error) {
	if env.Type != events.LeadAssignedName {
		return targets, nil
	}
	var data struct {
		AssignedOrgID uuid.UUID `json:"assignedOrgId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("read assigned organization of %s: %w", env.ID, err)
	}
	scoped := targets[:0:0]
	for _, cfg := range targets {
		if cfg.OrganizationID == data.AssignedOrgID {
			scoped = append(scoped, cfg)
		}
	}
	return scoped, nil
}

func (d *Dispatcher) deliver(ctx context.Context, cfg Config, env Envelope, body []byte) bool {
	for i, delay := range d.opts.RetrySchedule {
		attempt := i + 1
		if delay > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				d.log.Warn("webhook retry sequence interrupted", "webhook_id", cfg.ID, "event_id", env.ID, "attempt", attempt, "error", err)
				return false
			}
		}

		status, respBody, err := d.attempt(ctx, cfg, env, body, attempt)
		success := err == nil && status >= 200 && status < 300
		d.record(ctx, cfg, env, body, attempt, status, respBody, success, err)

		if success {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}

	d.log.Warn("webhook delivery exhausted",
		"webhook_id", cfg.ID,
		"event_id", env.ID,
		"event_type", env.Type,
		"attempts", len(d.opts.RetrySchedule),
	)
	return false
}

func (d *Dispatcher) attempt(ctx context.Context, cfg Config, env Envelope, body []byte, attempt int) (int, string, error) {
	if err := d.pacer.Wait(ctx); err != nil {
		return 0, "", err
	}
	if err := d.inflight.Acquire(ctx, 1); err != nil {
		return 0, "", err
	}
	defer d.inflight.Release(1)

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(body, cfg.Secret))
	req.Header.Set(HeaderEvent, env.Type)
	req.Header.Set(HeaderID, env.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.WebhookAttemptDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	// A body read failure still leaves a usable status code.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxStoredBody+1))
	return resp.StatusCode, string(raw), nil
}

func (d *Dispatcher) record(ctx context.Context, cfg Config, env Envelope, body []byte, attempt, status int, respBody string, success bool, attemptErr error) {
	now := d.now().UTC()
	delivery := Delivery{
		ID:          ids.NewAt(now),
		WebhookID:   cfg.ID,
		DeliveredAt: now,
		EventID:     env.ID,
		EventType:   env.Type,
		RequestBody: sanitize.Truncate(string(body), MaxStoredBody),
		Success:     success,
		Attempt:     attempt,
		ExpiresAt:   now.Add(d.opts.Retention),
	}
	if status > 0 {
		delivery.ResponseStatus = &status
		truncated := sanitize.Truncate(respBody, MaxStoredBody)
		delivery.ResponseBody = &truncated
	}
	if attemptErr != nil {
		msg := attemptErr.Error()
		delivery.Error = &msg
	}

	outcome := "success"
	switch {
	case attemptErr != nil:
		outcome = "transport_error"
	case !success:
		outcome = "http_error"
	}
	metrics.WebhookAttempts.WithLabelValues(env.Type, outcome).Inc()
	d.log.WebhookAttempt(cfg.ID.String(), env.Type, attempt, status, success, attemptErr)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := d.deliveries.Record(recordCtx, delivery); err != nil {
		d.log.Error("failed to record webhook delivery", "webhook_id", cfg.ID, "event_id", env.ID, "attempt", attempt, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
