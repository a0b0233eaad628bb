// Package webhook provides the outbound webhook bounded context module.
// This file defines the module that encapsulates webhook admin route registration.
package webhook

import (
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the webhook bounded context module implementing http.Module.
type Module struct {
	handler    *Handler
	repo       *Repository
	deliveries *DeliveryRepository
}

// NewModule creates and initializes the webhook module with all its dependencies.
func NewModule(pool *pgxpool.Pool, val *validator.Validator) *Module {
	repo := NewRepository(pool)
	deliveries := NewDeliveryRepository(pool)

	return &Module{
		handler:    NewHandler(repo, deliveries, val),
		repo:       repo,
		deliveries: deliveries,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// Repository exposes the registry for the dispatcher.
func (m *Module) Repository() *Repository {
	return m.repo
}

// Deliveries exposes the audit trail for the dispatcher and cleanup job.
func (m *Module) Deliveries() *DeliveryRepository {
	return m.deliveries
}

// RegisterRoutes mounts webhook routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	admin := ctx.Admin.Group("/webhooks")
	admin.POST("", m.handler.HandleCreate)
	admin.GET("", m.handler.HandleList)
	admin.DELETE("/:id", m.handler.HandleDeactivate)
	admin.GET("/:id/deliveries", m.handler.HandleListDeliveries)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
