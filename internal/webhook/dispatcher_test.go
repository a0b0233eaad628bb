package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type staticConfigs []Config

func (s staticConfigs) ActiveForEvent(_ context.Context, eventType string) ([]Config, error) {
	var out []Config
	for _, cfg := range s {
		if cfg.IsActive && cfg.Subscribes(eventType) {
			out = append(out, cfg)
		}
	}
	return out, nil
}

type failingConfigs struct{}

func (failingConfigs) ActiveForEvent(context.Context, string) ([]Config, error) {
	return nil, errors.New("database down")
}

type memoryDeliveries struct {
	mu    sync.Mutex
	items []Delivery
}

func (m *memoryDeliveries) Record(_ context.Context, d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, d)
	return nil
}

func (m *memoryDeliveries) forWebhook(id uuid.UUID) []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Delivery
	for _, d := range m.items {
		if d.WebhookID == id {
			out = append(out, d)
		}
	}
	return out
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type receivedRequest struct {
	header http.Header
	body   []byte
}

// scriptedServer answers with statuses in order, repeating the last one.
func scriptedServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32, *[]receivedRequest) {
	t.Helper()
	var calls atomic.Int32
	var mu sync.Mutex
	var received []receivedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1))
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, receivedRequest{header: r.Header.Clone(), body: body})
		mu.Unlock()

		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("status " + strconv.Itoa(status)))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &received
}

func newTestDispatcher(configs ConfigSource, deliveries DeliveryRecorder, sleeper *sleepRecorder, opts Options) *Dispatcher {
	return NewDispatcher(configs, deliveries, opts, logger.Discard()).WithSleeper(sleeper.sleep)
}

func activeConfig(url string) Config {
	return Config{ID: uuid.New(), URL: url, Secret: "whsec_test", Events: []string{"lead.assigned"}, IsActive: true}
}

func TestDispatchRetriesUntilSuccess(t *testing.T) {
	srv, calls, received := scriptedServer(t, 500, 500, 200)
	cfg := activeConfig(srv.URL)
	deliveries := &memoryDeliveries{}
	sleeper := &sleepRecorder{}

	d := newTestDispatcher(staticConfigs{cfg}, deliveries, sleeper, Options{})
	report, err := d.Dispatch(context.Background(), "lead.assigned", map[string]string{"leadId": "abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	if report.Delivered != 1 || report.Exhausted != 0 || report.Targets != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	records := deliveries.forWebhook(cfg.ID)
	if len(records) != 3 {
		t.Fatalf("expected 3 delivery records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Attempt != i+1 {
			t.Fatalf("record %d: expected attempt %d, got %d", i, i+1, rec.Attempt)
		}
		if rec.EventID != report.EventID {
			t.Fatalf("record %d: expected event id %s, got %s", i, report.EventID, rec.EventID)
		}
		wantSuccess := i == 2
		if rec.Success != wantSuccess {
			t.Fatalf("record %d: expected success=%v", i, wantSuccess)
		}
		if rec.ResponseStatus == nil {
			t.Fatalf("record %d: expected a response status", i)
		}
		if !rec.ExpiresAt.After(rec.DeliveredAt) {
			t.Fatalf("record %d: expected expiry after delivery", i)
		}
	}

	if len(sleeper.delays) != 2 || sleeper.delays[0] != 30*time.Second || sleeper.delays[1] != 5*time.Minute {
		t.Fatalf("unexpected retry delays %v", sleeper.delays)
	}

	for i, req := range *received {
		if !Verify(req.body, cfg.Secret, req.header.Get(HeaderSignature)) {
			t.Fatalf("request %d: signature does not verify", i)
		}
		if req.header.Get(HeaderAttempt) != strconv.Itoa(i+1) {
			t.Fatalf("request %d: unexpected attempt header %q", i, req.header.Get(HeaderAttempt))
		}
		if req.header.Get(HeaderEvent) != "lead.assigned" {
			t.Fatalf("request %d: unexpected event header %q", i, req.header.Get(HeaderEvent))
		}
	}
}

func TestDispatchStopsAfterThreeFailures(t *testing.T) {
	srv, calls, _ := scriptedServer(t, 500)
	cfg := activeConfig(srv.URL)
	deliveries := &memoryDeliveries{}

	d := newTestDispatcher(staticConfigs{cfg}, deliveries, &sleepRecorder{}, Options{})
	report, err := d.Dispatch(context.Background(), "lead.assigned", map[string]string{"leadId": "abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if calls.Load() != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls.Load())
	}
	if report.Exhausted != 1 || report.Delivered != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	records := deliveries.forWebhook(cfg.ID)
	if len(records) != 3 {
		t.Fatalf("expected 3 delivery records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Success {
			t.Fatal("expected every attempt to fail")
		}
	}
}

func TestDispatchOnlySubscribedWebhooks(t *testing.T) {
	okSrv, okCalls, _ := scriptedServer(t, 204)
	badSrv, badCalls, _ := scriptedServer(t, 503)
	ok, bad := activeConfig(okSrv.URL), activeConfig(badSrv.URL)
	other := activeConfig(okSrv.URL)
	other.Events = []string{"lead.unassigned"}
	deliveries := &memoryDeliveries{}

	d := newTestDispatcher(staticConfigs{ok, bad, other}, deliveries, &sleepRecorder{}, Options{MaxParallel: 2})
	report, err := d.Dispatch(context.Background(), "lead.assigned", map[string]string{"leadId": "abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if report.Targets != 2 || report.Delivered != 1 || report.Exhausted != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if okCalls.Load() != 1 || badCalls.Load() != 3 {
		t.Fatalf("expected 1 and 3 calls, got %d and %d", okCalls.Load(), badCalls.Load())
	}
	if len(deliveries.forWebhook(other.ID)) != 0 {
		t.Fatal("expected no delivery to a webhook not subscribed to the event")
	}
}

// blockingSleeper parks every retry delay until release is closed.
type blockingSleeper struct {
	release chan struct{}
	waiting atomic.Int32
}

func (b *blockingSleeper) sleep(ctx context.Context, _ time.Duration) error {
	b.waiting.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatchBackoffDoesNotDelayHealthyWebhooks(t *testing.T) {
	badSrv, _, _ := scriptedServer(t, 500)
	healthyHit := make(chan struct{}, 1)
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case healthyHit <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(healthy.Close)

	var targets staticConfigs
	for range 16 {
		targets = append(targets, activeConfig(badSrv.URL))
	}
	targets = append(targets, activeConfig(healthy.URL))

	sleeper := &blockingSleeper{release: make(chan struct{})}
	d := NewDispatcher(targets, &memoryDeliveries{}, Options{}, logger.Discard()).WithSleeper(sleeper.sleep)

	type result struct {
		report DispatchReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := d.Dispatch(context.Background(), "lead.assigned", map[string]string{"leadId": "abc"})
		done <- result{report, err}
	}()

	select {
	case <-healthyHit:
	case <-time.After(5 * time.Second):
		close(sleeper.release)
		t.Fatalf("healthy webhook not called while %d sequences were backing off", sleeper.waiting.Load())
	}

	close(sleeper.release)
	res := <-done
	if res.err != nil {
		t.Fatalf("dispatch: %v", res.err)
	}
	if res.report.Delivered != 1 || res.report.Exhausted != 16 {
		t.Fatalf("unexpected report %+v", res.report)
	}
}

func TestDispatchAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	cfg := activeConfig(srv.URL)
	deliveries := &memoryDeliveries{}
	d := newTestDispatcher(staticConfigs{cfg}, deliveries, &sleepRecorder{}, Options{
		Timeout:       50 * time.Millisecond,
		RetrySchedule: []time.Duration{0},
	})

	report, err := d.Dispatch(context.Background(), "lead.assigned", map[string]string{"leadId": "abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Exhausted != 1 {
		t.Fatalf("expected exhausted delivery, got %+v", report)
	}

	records := deliveries.forWebhook(cfg.ID)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Error == nil || records[0].ResponseStatus != nil {
		t.Fatalf("expected a transport error without status, got %+v", records[0])
	}
}

func TestDispatchTruncatesStoredBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 10_000)))
	}))
	t.Cleanup(srv.Close)

	cfg := activeConfig(srv.URL)
	deliveries := &memoryDeliveries{}
	d := newTestDispatcher(staticConfigs{cfg}, deliveries, &sleepRecorder{}, Options{})

	payload := map[string]string{"message": strings.Repeat("y", 10_000)}
	if _, err := d.Dispatch(context.Background(), "lead.assigned", payload); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	records := deliveries.forWebhook(cfg.ID)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if len(records[0].RequestBody) != MaxStoredBody {
		t.Fatalf("expected request body truncated to %d, got %d", MaxStoredBody, len(records[0].RequestBody))
	}
	if records[0].ResponseBody == nil || len(*records[0].ResponseBody) != MaxStoredBody {
		t.Fatal("expected response body truncated")
	}
}

func TestDispatchEnvelopeShape(t *testing.T) {
	srv, _, received := scriptedServer(t, 200)
	cfg := activeConfig(srv.URL)
	d := newTestDispatcher(staticConfigs{cfg}, &memoryDeliveries{}, &sleepRecorder{}, Options{})

	report, err := d.Dispatch(context.Background(), "lead.assigned", map[string]string{"leadId": "abc"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal((*received)[0].body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.ID != report.EventID || env.Type != "lead.assigned" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
	if (*received)[0].header.Get(HeaderID) != env.ID {
		t.Fatal("expected id header to match envelope id")
	}

	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil || data["leadId"] != "abc" {
		t.Fatalf("unexpected data %s", env.Data)
	}
}

func TestDispatchConfigLoadFailure(t *testing.T) {
	d := newTestDispatcher(failingConfigs{}, &memoryDeliveries{}, &sleepRecorder{}, Options{})
	if _, err := d.Dispatch(context.Background(), "lead.assigned", nil); err == nil {
		t.Fatal("expected error when webhooks cannot be loaded")
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"1"}`)
	sig := Sign(body, "secret")

	if !Verify(body, "secret", sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(body, "other", sig) {
		t.Fatal("expected wrong secret to fail")
	}
	if Verify([]byte(`{"id":"2"}`), "secret", sig) {
		t.Fatal("expected modified body to fail")
	}
	if Verify(body, "secret", "not-hex") {
		t.Fatal("expected malformed signature to fail")
	}
}

func TestDispatchScopesAssignedEventsToOrganization(t *testing.T) {
	srv, calls, _ := scriptedServer(t, 200)
	orgA, orgB := uuid.New(), uuid.New()

	mine := activeConfig(srv.URL)
	mine.OrganizationID = orgA
	theirs := activeConfig(srv.URL)
	theirs.OrganizationID = orgB
	theirs.Events = []string{AllEvents}
	deliveries := &memoryDeliveries{}

	d := newTestDispatcher(staticConfigs{mine, theirs}, deliveries, &sleepRecorder{}, Options{})
	report, err := d.Dispatch(context.Background(), "lead.assigned", map[string]string{
		"leadId":        uuid.NewString(),
		"assignedOrgId": orgA.String(),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.Targets != 1 || calls.Load() != 1 {
		t.Fatalf("expected only the assigned organization's webhook, got %+v with %d calls", report, calls.Load())
	}
	if len(deliveries.forWebhook(theirs.ID)) != 0 {
		t.Fatal("expected no delivery to another organization's webhook")
	}

	// Unassigned leads have no owner; every subscriber hears about them.
	theirsOnly := newTestDispatcher(staticConfigs{theirs}, &memoryDeliveries{}, &sleepRecorder{}, Options{})
	report, err = theirsOnly.Dispatch(context.Background(), "lead.unassigned", map[string]string{"leadId": uuid.NewString()})
	if err != nil || report.Targets != 1 {
		t.Fatalf("expected lead.unassigned to reach the wildcard webhook, got %+v, %v", report, err)
	}
}
