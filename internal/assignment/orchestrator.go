package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow_backend/internal/caps"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/routing"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
)

const releaseTimeout = 3 * time.Second

// Orchestrator assigns one lead per Process call.
type Orchestrator struct {
	leads    LeadRepository
	rules    RuleProvider
	orgs     OrgDirectory
	caps     CapChecker
	matcher  *routing.Matcher
	selector *routing.Selector
	eventBus events.Bus
	log      *logger.Logger
	now      func() time.Time
}

// Deps groups the collaborators of an Orchestrator.
type Deps struct {
	Leads    LeadRepository
	Rules    RuleProvider
	Orgs     OrgDirectory
	Caps     CapChecker
	Matcher  *routing.Matcher
	Selector *routing.Selector
	EventBus events.Bus
	Log      *logger.Logger
}

// NewOrchestrator creates an orchestrator from deps.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{
		leads:    deps.Leads,
		rules:    deps.Rules,
		orgs:     deps.Orgs,
		caps:     deps.Caps,
		matcher:  deps.Matcher,
		selector: deps.Selector,
		eventBus: deps.EventBus,
		log:      deps.Log,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Process handles one lead.created delivery. Duplicate deliveries are safe:
// a lead that already left status new is skipped, and a concurrent delivery
// that wins the conditional update turns this one into already_handled.
// Store and database errors abort the run so the queue redelivers it.
func (o *Orchestrator) Process(ctx context.Context, evt events.LeadCreated) (Outcome, error) {
	log := o.log.WithContext(ctx).WithFields("lead_id", evt.LeadID.String())

	lead, err := o.leads.Get(ctx, evt.LeadID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load lead: %w", err)
	}
	if lead.Status != StatusNew {
		log.Debug("lead already processed, skipping", "status", lead.Status)
		return o.finish(Outcome{Status: OutcomeSkipped}), nil
	}

	funnelID := lead.FunnelID
	if funnelID == "" {
		funnelID = evt.FunnelID
	}
	zip := lead.ZipCode
	if zip == "" {
		zip = evt.ZipCode
	}

	rules, err := o.rules.Get(ctx, funnelID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load rules: %w", err)
	}

	candidates := o.selector.Order(ctx, o.matcher.Rank(funnelID, zip, rules))
	if len(candidates) == 0 {
		reason := fmt.Sprintf("no active rule matched funnel %s zip %s", funnelID, displayZip(zip))
		return o.unassign(ctx, log, lead, zip, reason)
	}

	var rejected rejections
	for _, c := range candidates {
		reservation, rejection, err := o.eligible(ctx, log, c.Rule)
		if err != nil {
			return Outcome{}, err
		}
		if rejection != "" {
			rejected.add(rejection)
			continue
		}

		outcome, err := o.assign(ctx, log, lead, c.Rule, reservation)
		if err != nil {
			return Outcome{}, err
		}
		return outcome, nil
	}

	reason := fmt.Sprintf("all %d candidate rules rejected (%s)", len(candidates), rejected)
	return o.unassign(ctx, log, lead, zip, reason)
}

const (
	rejectInactiveOrg = "inactive organization"
	rejectNonMember   = "user not a member"
	rejectDailyCap    = "daily cap reached"
	rejectMonthlyCap  = "monthly cap reached"
)

// rejections counts why candidates were passed over, in first-seen order.
type rejections struct {
	order  []string
	counts map[string]int
}

func (r *rejections) add(kind string) {
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	if r.counts[kind] == 0 {
		r.order = append(r.order, kind)
	}
	r.counts[kind]++
}

func (r rejections) String() string {
	parts := make([]string, 0, len(r.order))
	for _, kind := range r.order {
		parts = append(parts, fmt.Sprintf("%d %s", r.counts[kind], kind))
	}
	return strings.Join(parts, ", ")
}

// eligible runs the organization, membership and cap checks for rule. A
// non-empty rejection names the check that failed; otherwise the returned
// decision holds a cap reservation the caller must assign or release.
func (o *Orchestrator) eligible(ctx context.Context, log *logger.Logger, rule routing.Rule) (caps.Decision, string, error) {
	active, err := o.orgs.IsActive(ctx, rule.TargetOrgID)
	if err != nil {
		return caps.Decision{}, "", fmt.Errorf("check organization: %w", err)
	}
	if !active {
		log.Debug("rule target organization inactive", "rule_id", rule.ID, "org_id", rule.TargetOrgID)
		return caps.Decision{}, rejectInactiveOrg, nil
	}

	if rule.TargetUserID != nil {
		member, err := o.orgs.IsMember(ctx, rule.TargetOrgID, *rule.TargetUserID)
		if err != nil {
			return caps.Decision{}, "", fmt.Errorf("check membership: %w", err)
		}
		if !member {
			log.Debug("rule target user not a member", "rule_id", rule.ID, "user_id", *rule.TargetUserID)
			return caps.Decision{}, rejectNonMember, nil
		}
	}

	decision, err := o.caps.CheckAndIncrement(ctx, rule.ID.String(), rule.DailyCap, rule.MonthlyCap)
	if err != nil {
		return caps.Decision{}, "", fmt.Errorf("check caps: %w", err)
	}
	if !decision.Allowed {
		log.Debug("rule cap reached", "rule_id", rule.ID, "reason", decision.Reason)
		if decision.Reason == caps.ReasonMonthlyCap {
			return decision, rejectMonthlyCap, nil
		}
		return decision, rejectDailyCap, nil
	}
	return decision, "", nil
}

func (o *Orchestrator) assign(ctx context.Context, log *logger.Logger, lead Lead, rule routing.Rule, reservation caps.Decision) (Outcome, error) {
	assignedAt := o.now().UTC()
	err := o.leads.Assign(ctx, AssignParams{
		LeadID:     lead.ID,
		OrgID:      rule.TargetOrgID,
		UserID:     rule.TargetUserID,
		RuleID:     rule.ID,
		AssignedAt: assignedAt,
	})
	if err != nil {
		// The lead did not land on this rule, so its slot goes back.
		o.release(ctx, log, rule, reservation)
	}
	if errors.Is(err, ErrStatusConflict) {
		log.Info("lead handled by a concurrent delivery", "rule_id", rule.ID)
		return o.finish(Outcome{Status: OutcomeAlreadyHandled}), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	ruleID, orgID := rule.ID, rule.TargetOrgID
	log.Info("lead assigned", "rule_id", ruleID, "org_id", orgID)

	o.publish(ctx, log, events.LeadAssigned{
		BaseEvent:        events.NewBaseEventAt(assignedAt),
		LeadID:           lead.ID,
		FunnelID:         lead.FunnelID,
		AssignedOrgID:    orgID,
		AssignedUserID:   rule.TargetUserID,
		AssignmentRuleID: ruleID,
		AssignedAt:       assignedAt,
	})

	return o.finish(Outcome{
		Status: OutcomeAssigned,
		RuleID: &ruleID,
		OrgID:  &orgID,
		UserID: rule.TargetUserID,
	}), nil
}

// release runs even when ctx is already cancelled; a failure leaves the cap
// one slot tighter until the period ends and is only logged.
func (o *Orchestrator) release(ctx context.Context, log *logger.Logger, rule routing.Rule, reservation caps.Decision) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := o.caps.Release(ctx, reservation); err != nil {
		log.Error("cap release failed", "rule_id", rule.ID, "error", err)
	}
}

func (o *Orchestrator) unassign(ctx context.Context, log *logger.Logger, lead Lead, zip, reason string) (Outcome, error) {
	err := o.leads.MarkUnassigned(ctx, lead.ID, reason)
	if errors.Is(err, ErrStatusConflict) {
		log.Info("lead handled by a concurrent delivery")
		return o.finish(Outcome{Status: OutcomeAlreadyHandled}), nil
	}
	if err != nil {
		return Outcome{}, err
	}

	evaluatedAt := o.now().UTC()
	log.Info("lead unassigned", "reason", reason)

	o.publish(ctx, log, events.LeadUnassigned{
		BaseEvent:   events.NewBaseEventAt(evaluatedAt),
		LeadID:      lead.ID,
		FunnelID:    lead.FunnelID,
		ZipCode:     zip,
		Reason:      reason,
		EvaluatedAt: evaluatedAt,
	})

	return o.finish(Outcome{Status: OutcomeUnassigned, Reason: reason}), nil
}

// publish runs subscribers synchronously. A failure is logged only: the lead
// already left status new, so a redelivery could not publish again anyway.
func (o *Orchestrator) publish(ctx context.Context, log *logger.Logger, evt events.Event) {
	if o.eventBus == nil {
		return
	}
	if err := o.eventBus.PublishSync(ctx, evt); err != nil {
		log.Error("publish event failed", "event", evt.EventName(), "error", err)
	}
}

func (o *Orchestrator) finish(outcome Outcome) Outcome {
	metrics.Assignments.WithLabelValues(outcome.Status).Inc()
	return outcome
}

func displayZip(zip string) string {
	if strings.TrimSpace(zip) == "" {
		return "(none)"
	}
	return zip
}

