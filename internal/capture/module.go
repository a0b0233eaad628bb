package capture

import (
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/ratelimit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Deps groups the collaborators of the capture module.
type Deps struct {
	Pool        *pgxpool.Pool
	Guard       Guard
	Queue       LeadQueue
	Limiter     *ratelimit.Limiter
	Policy      ratelimit.Policy
	Validator   *validator.Validator
	PhoneRegion string
	Log         *logger.Logger
}

// Module is the capture bounded context module implementing http.Module.
type Module struct {
	handler   *Handler
	repo      *Repository
	rateLimit gin.HandlerFunc
}

// NewModule creates and initializes the capture module.
func NewModule(deps Deps) *Module {
	repo := NewRepository(deps.Pool)
	svc := NewService(repo, deps.Guard, deps.Queue, deps.PhoneRegion, deps.Log)

	return &Module{
		handler:   NewHandler(svc, deps.Validator),
		repo:      repo,
		rateLimit: ratelimit.Middleware(deps.Limiter, deps.Policy, ratelimit.ClientIP, deps.Log),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "capture"
}

// Repository exposes lead storage for the pending-lead requeue job.
func (m *Module) Repository() *Repository {
	return m.repo
}

// RegisterRoutes mounts the public capture endpoint.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.V1.POST("/funnels/:funnelId/leads", m.rateLimit, m.handler.HandleCapture)
}

var _ apphttp.Module = (*Module)(nil)
