package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errNoOrgContext      = "no organization context"
	errInvalidRequest    = "invalid request body"
	errInvalidWebhookID  = "invalid webhook ID"
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 200
)

// ConfigStore is the admin view of the webhook registry.
type ConfigStore interface {
	Create(ctx context.Context, orgID uuid.UUID, url, secret string, events []string) (Config, error)
	Get(ctx context.Context, id, orgID uuid.UUID) (Config, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]Config, error)
	Deactivate(ctx context.Context, id, orgID uuid.UUID) error
}

// DeliveryLister reads the delivery audit trail.
type DeliveryLister interface {
	ListByWebhook(ctx context.Context, webhookID uuid.UUID, limit int) ([]Delivery, error)
}

// Handler handles webhook admin HTTP requests.
type Handler struct {
	configs    ConfigStore
	deliveries DeliveryLister
	val        *validator.Validator
}

// NewHandler creates a new webhook handler.
func NewHandler(configs ConfigStore, deliveries DeliveryLister, val *validator.Validator) *Handler {
	return &Handler{configs: configs, deliveries: deliveries, val: val}
}

// CreateWebhookRequest is the request body for registering a webhook.
type CreateWebhookRequest struct {
	URL    string   `json:"url" validate:"required,url,max=2048"`
	Events []string `json:"events" validate:"required,min=1,max=10,dive,oneof=lead.assigned lead.unassigned *"`
}

// WebhookResponse is returned when listing or creating webhooks.
type WebhookResponse struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"isActive"`
	CreatedAt string    `json:"createdAt"`
}

// CreateWebhookResponse includes the signing secret (shown only once).
type CreateWebhookResponse struct {
	WebhookResponse
	Secret string `json:"secret"`
}

// DeliveryResponse is one audit trail entry.
type DeliveryResponse struct {
	ID             string  `json:"id"`
	DeliveredAt    string  `json:"deliveredAt"`
	EventID        string  `json:"eventId"`
	EventType      string  `json:"eventType"`
	Attempt        int     `json:"attempt"`
	Success        bool    `json:"success"`
	ResponseStatus *int    `json:"responseStatus,omitempty"`
	ResponseBody   *string `json:"responseBody,omitempty"`
	Error          *string `json:"error,omitempty"`
	RequestBody    string  `json:"requestBody"`
}

// HandleCreate registers a webhook for the caller's organization.
// POST /api/v1/admin/webhooks
func (h *Handler) HandleCreate(c *gin.Context) {
	var req CreateWebhookRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	tenantID, ok := h.getTenantID(c)
	if !ok {
		return
	}

	secret, err := GenerateSecret()
	if err != nil {
		httpkit.HandleError(c, apperr.Wrap(apperr.KindInternal, "failed to generate webhook secret", err))
		return
	}

	cfg, err := h.configs.Create(c.Request.Context(), tenantID, req.URL, secret, req.Events)
	if httpkit.HandleError(c, err) {
		return
	}

	c.JSON(http.StatusCreated, CreateWebhookResponse{
		WebhookResponse: toWebhookResponse(cfg),
		Secret:          secret,
	})
}

// HandleList lists the organization's webhooks.
// GET /api/v1/admin/webhooks
func (h *Handler) HandleList(c *gin.Context) {
	tenantID, ok := h.getTenantID(c)
	if !ok {
		return
	}

	configs, err := h.configs.ListByOrganization(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]WebhookResponse, len(configs))
	for i, cfg := range configs {
		result[i] = toWebhookResponse(cfg)
	}
	httpkit.OK(c, result)
}

// HandleDeactivate disables a webhook.
// DELETE /api/v1/admin/webhooks/:id
func (h *Handler) HandleDeactivate(c *gin.Context) {
	tenantID, ok := h.getTenantID(c)
	if !ok {
		return
	}
	webhookID, ok := h.parseWebhookID(c)
	if !ok {
		return
	}

	err := h.configs.Deactivate(c.Request.Context(), webhookID, tenantID)
	if errors.Is(err, ErrNotFound) {
		httpkit.HandleError(c, apperr.NotFound("webhook not found"))
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "deactivated"})
}

// HandleListDeliveries returns the newest delivery attempts of a webhook.
// GET /api/v1/admin/webhooks/:id/deliveries?limit=
func (h *Handler) HandleListDeliveries(c *gin.Context) {
	tenantID, ok := h.getTenantID(c)
	if !ok {
		return
	}
	webhookID, ok := h.parseWebhookID(c)
	if !ok {
		return
	}

	limit := defaultDeliveryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpkit.HandleError(c, apperr.BadRequest("limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxDeliveryLimit)
	}

	_, err := h.configs.Get(c.Request.Context(), webhookID, tenantID)
	if errors.Is(err, ErrNotFound) {
		httpkit.HandleError(c, apperr.NotFound("webhook not found"))
		return
	}
	if httpkit.HandleError(c, err) {
		return
	}

	deliveries, err := h.deliveries.ListByWebhook(c.Request.Context(), webhookID, limit)
	if httpkit.HandleError(c, err) {
		return
	}

	result := make([]DeliveryResponse, len(deliveries))
	for i, d := range deliveries {
		result[i] = DeliveryResponse{
			ID:             d.ID,
			DeliveredAt:    d.DeliveredAt.UTC().Format(time.RFC3339),
			EventID:        d.EventID,
			EventType:      d.EventType,
			Attempt:        d.Attempt,
			Success:        d.Success,
			ResponseStatus: d.ResponseStatus,
			ResponseBody:   d.ResponseBody,
			Error:          d.Error,
			RequestBody:    d.RequestBody,
		}
	}
	httpkit.OK(c, result)
}

func toWebhookResponse(cfg Config) WebhookResponse {
	events := cfg.Events
	if events == nil {
		events = []string{}
	}
	return WebhookResponse{
		ID:        cfg.ID,
		URL:       cfg.URL,
		Events:    events,
		IsActive:  cfg.IsActive,
		CreatedAt: cfg.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) getTenantID(c *gin.Context) (uuid.UUID, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.UUID{}, false
	}
	tenantID := identity.TenantID()
	if tenantID == nil {
		httpkit.HandleError(c, apperr.Forbidden(errNoOrgContext))
		return uuid.UUID{}, false
	}
	return *tenantID, true
}

func (h *Handler) parseWebhookID(c *gin.Context) (uuid.UUID, bool) {
	webhookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.BadRequest(errInvalidWebhookID))
		return uuid.UUID{}, false
	}
	return webhookID, true
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.HandleError(c, apperr.BadRequest(errInvalidRequest))
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation("validation failed").WithDetails(validator.FieldErrors(err)))
		return false
	}
	return true
}
