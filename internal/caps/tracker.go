// Package caps enforces per-rule daily and monthly assignment quotas using
// counters in the shared store.
package caps

import (
	"context"
	"fmt"
	"time"

	"leadflow_backend/platform/kvstore"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/metrics"
)

const (
	ReasonDailyCap   = "daily_cap_exceeded"
	ReasonMonthlyCap = "monthly_cap_exceeded"
)

// periodBuffer keeps a counter readable for a day after its period closes.
const periodBuffer = 24 * time.Hour

// Decision is the outcome of CheckAndIncrement. An allowed decision holds the
// counter keys it incremented so Release can undo exactly that reservation.
type Decision struct {
	Allowed      bool
	Reason       string
	DailyCount   int64
	MonthlyCount int64

	dailyKey   string
	monthlyKey string
}

// Usage is the current counter values for a rule.
type Usage struct {
	Daily   int64
	Monthly int64
}

// Tracker counts assignments per rule and period.
type Tracker struct {
	store kvstore.Store
	loc   *time.Location
	now   func() time.Time
	log   *logger.Logger
}

// NewTracker creates a tracker computing periods in loc (UTC when nil).
func NewTracker(store kvstore.Store, loc *time.Location, log *logger.Logger) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{store: store, loc: loc, now: time.Now, log: log}
}

// WithClock replaces the time source. Intended for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CheckAndIncrement reserves one slot against the rule's caps.
//
// The daily counter is incremented first and a breach denies immediately,
// leaving the monthly counter untouched. A monthly breach rolls the daily
// increment back; the monthly counter itself is never rolled back. Nil caps
// are unlimited.
func (t *Tracker) CheckAndIncrement(ctx context.Context, ruleID string, dailyCap, monthlyCap *int64) (Decision, error) {
	now := t.now().In(t.loc)
	dailyKey, dailyTTL := t.dailyKey(ruleID, now)
	monthlyKey, monthlyTTL := t.monthlyKey(ruleID, now)

	daily, err := t.store.IncrBy(ctx, dailyKey, 1, dailyTTL)
	if err != nil {
		return Decision{}, fmt.Errorf("increment daily cap for rule %s: %w", ruleID, err)
	}
	if dailyCap != nil && daily > *dailyCap {
		metrics.CapRejections.WithLabelValues(ReasonDailyCap).Inc()
		return Decision{Reason: ReasonDailyCap, DailyCount: daily}, nil
	}

	monthly, err := t.store.IncrBy(ctx, monthlyKey, 1, monthlyTTL)
	if err != nil {
		// The daily slot stays reserved; it only loosens the daily cap by one.
		return Decision{DailyCount: daily}, fmt.Errorf("increment monthly cap for rule %s: %w", ruleID, err)
	}
	if monthlyCap != nil && monthly > *monthlyCap {
		metrics.CapRejections.WithLabelValues(ReasonMonthlyCap).Inc()
		d := Decision{Reason: ReasonMonthlyCap, DailyCount: daily, MonthlyCount: monthly}

		restored, rbErr := t.store.IncrBy(ctx, dailyKey, -1, dailyTTL)
		if rbErr != nil {
			t.log.Error("cap rollback failed", "rule_id", ruleID, "key", dailyKey, "error", rbErr)
			return d, fmt.Errorf("roll back daily cap for rule %s: %w", ruleID, rbErr)
		}
		d.DailyCount = restored
		return d, nil
	}

	return Decision{Allowed: true, DailyCount: daily, MonthlyCount: monthly, dailyKey: dailyKey, monthlyKey: monthlyKey}, nil
}

// Release returns an allowed reservation whose lead was never assigned to
// the rule. Both counters are decremented in the periods they were taken
// from, even if the clock has since crossed a boundary. Denied decisions hold
// nothing and are ignored.
func (t *Tracker) Release(ctx context.Context, d Decision) error {
	if !d.Allowed || d.dailyKey == "" {
		return nil
	}
	if _, err := t.store.IncrBy(ctx, d.dailyKey, -1, 0); err != nil {
		return fmt.Errorf("release daily cap %s: %w", d.dailyKey, err)
	}
	if _, err := t.store.IncrBy(ctx, d.monthlyKey, -1, 0); err != nil {
		return fmt.Errorf("release monthly cap %s: %w", d.monthlyKey, err)
	}
	return nil
}

// Usage reads the current daily and monthly counters without modifying them.
func (t *Tracker) Usage(ctx context.Context, ruleID string) (Usage, error) {
	now := t.now().In(t.loc)
	dailyKey, _ := t.dailyKey(ruleID, now)
	monthlyKey, _ := t.monthlyKey(ruleID, now)

	daily, err := kvstore.GetCounter(ctx, t.store, dailyKey)
	if err != nil {
		return Usage{}, err
	}
	monthly, err := kvstore.GetCounter(ctx, t.store, monthlyKey)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Daily: daily, Monthly: monthly}, nil
}

func (t *Tracker) dailyKey(ruleID string, now time.Time) (string, time.Duration) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.loc)
	end := start.AddDate(0, 0, 1)
	return capKey(ruleID, "DAILY#"+now.Format("2006-01-02")), end.Sub(now) + periodBuffer
}

func (t *Tracker) monthlyKey(ruleID string, now time.Time) (string, time.Duration) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, t.loc)
	end := start.AddDate(0, 1, 0)
	return capKey(ruleID, "MONTHLY#"+now.Format("2006-01")), end.Sub(now) + periodBuffer
}

func capKey(ruleID, period string) string {
	return "cap:" + ruleID + ":" + period
}

