package capture

import (
	"context"
	"strings"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/idempotency"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
	"leadflow_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	maxNameBytes    = 200
	maxMessageBytes = 5000
	maxUTMBytes     = 100
)

// LeadWriter persists new leads.
type LeadWriter interface {
	Insert(ctx context.Context, lead NewLead) error
}

// Guard deduplicates submissions by content key.
type Guard interface {
	Check(ctx context.Context, key, candidateOwnerID, status string) (idempotency.Result, error)
	UpdateStatus(ctx context.Context, key, ownerID, from, to string) (bool, error)
}

// LeadQueue hands a created lead to the assignment worker.
type LeadQueue interface {
	EnqueueLeadCreated(ctx context.Context, evt events.LeadCreated) error
}

// Submission is one form post from a funnel page.
type Submission struct {
	FunnelID    string
	Name        string
	Email       string
	Phone       string
	ZipCode     string
	Message     string
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	ClientIP    string
}

// Result identifies the lead a submission resolved to.
type Result struct {
	LeadID    uuid.UUID
	Duplicate bool
}

// Service runs the capture flow.
type Service struct {
	leads       LeadWriter
	guard       Guard
	queue       LeadQueue
	phoneRegion string
	newID       func() uuid.UUID
	log         *logger.Logger
}

// NewService creates a capture service.
func NewService(leads LeadWriter, guard Guard, queue LeadQueue, phoneRegion string, log *logger.Logger) *Service {
	return &Service{
		leads:       leads,
		guard:       guard,
		queue:       queue,
		phoneRegion: phoneRegion,
		newID:       uuid.New,
		log:         log,
	}
}

// Submit stores a submission as a new lead unless an identical one was already captured.
//
// The idempotency record is claimed before the insert, so concurrent identical
// posts resolve to the same lead. A failed insert marks the record failed so
// a retry can claim it again. A failed enqueue is logged only: the lead is
// persisted and the pending-lead requeue job picks it up.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	sub = s.normalize(sub)
	log := s.log.WithContext(ctx).WithFields("funnel_id", sub.FunnelID)

	key := idempotency.DeriveKey(idempotency.Identity{
		FunnelID:    sub.FunnelID,
		Email:       sub.Email,
		Phone:       sub.Phone,
		Name:        sub.Name,
		Message:     sub.Message,
		PhoneRegion: s.phoneRegion,
	})

	leadID := s.newID()
	check, err := s.guard.Check(ctx, key, leadID.String(), idempotency.StatusPending)
	if err != nil {
		log.StoreError("idempotency_check", key, err)
		return Result{}, apperr.Wrap(apperr.KindInternal, "could not accept submission", err)
	}
	if check.IsDuplicate {
		existing, _ := uuid.Parse(check.ExistingOwnerID)
		log.Info("duplicate submission collapsed", "lead_id", existing, "status", check.ExistingStatus)
		return Result{LeadID: existing, Duplicate: true}, nil
	}

	err = s.leads.Insert(ctx, NewLead{
		ID:             leadID,
		FunnelID:       sub.FunnelID,
		ZipCode:        sub.ZipCode,
		Name:           sub.Name,
		Email:          sub.Email,
		Phone:          sub.Phone,
		Message:        sub.Message,
		UTMSource:      sub.UTMSource,
		UTMMedium:      sub.UTMMedium,
		UTMCampaign:    sub.UTMCampaign,
		ClientIP:       sub.ClientIP,
		IdempotencyKey: key,
	})
	if err != nil {
		log.DatabaseError("insert_lead", err)
		if _, relErr := s.guard.UpdateStatus(ctx, key, leadID.String(), idempotency.StatusPending, idempotency.StatusFailed); relErr != nil {
			log.StoreError("idempotency_release", key, relErr)
		}
		return Result{}, apperr.Wrap(apperr.KindInternal, "could not store lead", err)
	}

	if _, err := s.guard.UpdateStatus(ctx, key, leadID.String(), idempotency.StatusPending, idempotency.StatusCreated); err != nil {
		log.StoreError("idempotency_promote", key, err)
	}

	evt := events.LeadCreated{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		FunnelID:  sub.FunnelID,
		ZipCode:   sub.ZipCode,
	}
	if err := s.queue.EnqueueLeadCreated(ctx, evt); err != nil {
		log.Error("lead stored but not enqueued", "lead_id", leadID, "error", err)
	} else {
		log.Info("lead captured", "lead_id", leadID)
	}

	return Result{LeadID: leadID}, nil
}

func (s *Service) normalize(sub Submission) Submission {
	sub.FunnelID = strings.TrimSpace(sub.FunnelID)
	sub.Name = sanitize.Truncate(sanitize.Text(sub.Name), maxNameBytes)
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	sub.ZipCode = strings.TrimSpace(sub.ZipCode)
	sub.Message = sanitize.Truncate(sanitize.StripHTML(sub.Message), maxMessageBytes)
	sub.UTMSource = sanitize.Truncate(sanitize.Text(sub.UTMSource), maxUTMBytes)
	sub.UTMMedium = sanitize.Truncate(sanitize.Text(sub.UTMMedium), maxUTMBytes)
	sub.UTMCampaign = sanitize.Truncate(sanitize.Text(sub.UTMCampaign), maxUTMBytes)

	if raw := strings.TrimSpace(sub.Phone); raw != "" {
		if e164 := phone.NormalizeE164(raw, s.phoneRegion); e164 != "" {
			sub.Phone = e164
		} else {
			sub.Phone = raw
		}
	}
	return sub
}
