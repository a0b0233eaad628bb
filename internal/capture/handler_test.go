package capture

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"leadflow_backend/internal/ratelimit"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/kvstore/kvstoretest"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type stubSubmitter struct {
	result Result
	err    error
	got    []Submission
}

func (s *stubSubmitter) Submit(_ context.Context, sub Submission) (Result, error) {
	s.got = append(s.got, sub)
	return s.result, s.err
}

func newCaptureRouter(svc Submitter, middleware ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc, validator.New())
	r.POST("/funnels/:funnelId/leads", append(middleware, h.HandleCapture)...)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"name":"Jane Doe","email":"jane@example.com","zip":"90210","utm_source":"google"}`

func TestHandleCaptureSuccess(t *testing.T) {
	leadID := uuid.New()
	svc := &stubSubmitter{result: Result{LeadID: leadID}}
	r := newCaptureRouter(svc)

	rec := post(r, "/funnels/roofing/leads", validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp CaptureResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.LeadID != leadID.String() || resp.Duplicate {
		t.Fatalf("unexpected response %+v", resp)
	}

	if len(svc.got) != 1 {
		t.Fatalf("expected one submission, got %d", len(svc.got))
	}
	sub := svc.got[0]
	if sub.FunnelID != "roofing" || sub.ZipCode != "90210" || sub.UTMSource != "google" || sub.ClientIP == "" {
		t.Fatalf("unexpected submission %+v", sub)
	}
}

func TestHandleCaptureDuplicate(t *testing.T) {
	leadID := uuid.New()
	r := newCaptureRouter(&stubSubmitter{result: Result{LeadID: leadID, Duplicate: true}})

	rec := post(r, "/funnels/roofing/leads", validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp CaptureResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || !resp.Duplicate || resp.LeadID != leadID.String() || resp.Message != msgDuplicate {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleCaptureValidation(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{"missing name", "/funnels/roofing/leads", `{"email":"jane@example.com"}`, "name"},
		{"bad email", "/funnels/roofing/leads", `{"name":"Jane","email":"nope"}`, "email"},
		{"bad zip", "/funnels/roofing/leads", `{"name":"Jane","email":"jane@example.com","zip":"9021"}`, "zip"},
		{"wildcard funnel", "/funnels/*/leads", validBody, "FunnelID"},
		{"not json", "/funnels/roofing/leads", `name=Jane`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubSubmitter{}
			rec := post(newCaptureRouter(svc), tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}

			var resp struct {
				Success bool `json:"success"`
				Error   struct {
					Code    string                 `json:"code"`
					Details []validator.FieldError `json:"details"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Success || resp.Error.Code != "VALIDATION_ERROR" {
				t.Fatalf("unexpected envelope %s", rec.Body.String())
			}
			if tt.field != "" && (len(resp.Error.Details) == 0 || resp.Error.Details[0].Field != tt.field) {
				t.Fatalf("expected detail for %s, got %+v", tt.field, resp.Error.Details)
			}
			if len(svc.got) != 0 {
				t.Fatal("invalid submissions must not reach the service")
			}
		})
	}
}

func TestHandleCaptureInternalError(t *testing.T) {
	svc := &stubSubmitter{err: apperr.Wrap(apperr.KindInternal, "could not store lead", errors.New("db down"))}
	rec := post(newCaptureRouter(svc), "/funnels/roofing/leads", validBody)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp httpkit.ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("expected INTERNAL_ERROR, got %q", resp.Error.Code)
	}
}

func TestHandleCaptureRateLimited(t *testing.T) {
	store, _ := kvstoretest.New(t)
	limiter := ratelimit.New(store)
	policy := ratelimit.Policy{Name: "capture", Window: ratelimit.Minute, Max: 2, Shards: 1}
	svc := &stubSubmitter{result: Result{LeadID: uuid.New()}}
	r := newCaptureRouter(svc, ratelimit.Middleware(limiter, policy, ratelimit.ClientIP, logger.Discard()))

	for i := range 2 {
		if rec := post(r, "/funnels/roofing/leads", validBody); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := post(r, "/funnels/roofing/leads", validBody)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	var resp httpkit.ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Error.Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %q", resp.Error.Code)
	}
	if len(svc.got) != 2 {
		t.Fatalf("expected the limited request to be rejected before the service, got %d calls", len(svc.got))
	}
}
