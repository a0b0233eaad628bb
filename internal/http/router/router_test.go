package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"

	"github.com/gin-gonic/gin"
)

type testConfig struct{}

func (testConfig) GetHTTPAddr() string        { return ":0" }
func (testConfig) GetCORSAllowAll() bool      { return false }
func (testConfig) GetCORSOrigins() []string   { return []string{"https://funnel.example.com"} }
func (testConfig) GetJWTAccessSecret() string { return "secret" }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type probeModule struct{}

func (probeModule) Name() string { return "probe" }

func (probeModule) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.GET("/probe", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	ctx.Admin.GET("/probe", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func newTestEngine(health map[string]apphttp.HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return New(&apphttp.App{
		Config:  testConfig{},
		Logger:  logger.Discard(),
		Health:  health,
		Modules: []apphttp.Module{probeModule{}},
	})
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("down") })

	rec := serve(newTestEngine(map[string]apphttp.HealthChecker{"database": ok, "redis": ok}),
		httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = serve(newTestEngine(map[string]apphttp.HealthChecker{"database": ok, "redis": down}),
		httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["redis"] != "unavailable" || body.Checks["database"] != "ok" {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestModuleRoutesAndAdminGuard(t *testing.T) {
	engine := newTestEngine(nil)

	rec := serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/probe", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected public route to be reachable, got %d", rec.Code)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}

	rec = serve(engine, httptest.NewRequest(http.MethodGet, "/api/v1/admin/probe", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected admin route to require a token, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	engine := newTestEngine(nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/probe", nil)
	req.Header.Set("Origin", "https://funnel.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(engine, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://funnel.example.com" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Init()
	metrics.Assignments.WithLabelValues("assigned").Inc()

	rec := serve(newTestEngine(nil), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "leadflow_assignments_total") {
		t.Fatal("expected assignment counter in metrics output")
	}
}
