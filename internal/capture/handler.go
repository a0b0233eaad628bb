package capture

import (
	"context"
	"net/http"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgCaptured  = "lead received"
	msgDuplicate = "duplicate submission ignored"
)

// Submitter runs the capture flow for one submission.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) (Result, error)
}

// Handler handles lead capture HTTP requests.
type Handler struct {
	svc Submitter
	val *validator.Validator
}

// NewHandler creates a new capture handler.
func NewHandler(svc Submitter, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// CaptureRequest is the body posted by funnel pages.
type CaptureRequest struct {
	FunnelID    string `json:"-" validate:"required,max=64,excludesall=*/"`
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Email       string `json:"email" validate:"required,email,max=254"`
	Phone       string `json:"phone" validate:"omitempty,max=32"`
	Zip         string `json:"zip" validate:"omitempty,zipcode"`
	Message     string `json:"message" validate:"omitempty,max=5000"`
	UTMSource   string `json:"utm_source" validate:"omitempty,max=100"`
	UTMMedium   string `json:"utm_medium" validate:"omitempty,max=100"`
	UTMCampaign string `json:"utm_campaign" validate:"omitempty,max=100"`
}

// CaptureResponse is the success envelope.
type CaptureResponse struct {
	Success   bool   `json:"success"`
	LeadID    string `json:"leadId,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Message   string `json:"message"`
}

// HandleCapture accepts a form submission.
// POST /api/v1/funnels/:funnelId/leads
func (h *Handler) HandleCapture(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("request body must be a JSON object"))
		return
	}
	req.FunnelID = c.Param("funnelId")

	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation("validation failed").WithDetails(validator.FieldErrors(err)))
		return
	}

	result, err := h.svc.Submit(c.Request.Context(), Submission{
		FunnelID:    req.FunnelID,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		ZipCode:     req.Zip,
		Message:     req.Message,
		UTMSource:   req.UTMSource,
		UTMMedium:   req.UTMMedium,
		UTMCampaign: req.UTMCampaign,
		ClientIP:    c.ClientIP(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	resp := CaptureResponse{Success: true, Message: msgCaptured}
	if result.Duplicate {
		resp.Duplicate = true
		resp.Message = msgDuplicate
	}
	if result.LeadID != uuid.Nil {
		resp.LeadID = result.LeadID.String()
	}
	c.JSON(http.StatusOK, resp)
}
