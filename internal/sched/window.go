package sched

import (
	"fmt"
	"strings"
	"time"
)

// Window is the interval, on delta = target - now, during which a phase is
// eligible to fire: Open < delta <= Close.
//
// A bounded window is advisory: once it has fully elapsed the phase is
// marked fired-without-effect instead of firing late, so stale reminders
// are dropped. An unbounded window is the failure-safe policy for terminal
// phases (giveaway end, ticket close): downtime cannot silently skip them,
// they fire however overdue.
type Window struct {
	Open      time.Duration
	Close     time.Duration
	Unbounded bool
}

// Contains reports whether a phase with this window is due at delta.
func (w Window) Contains(delta time.Duration) bool {
	if w.Unbounded {
		return delta <= w.Close
	}
	return delta > w.Open && delta <= w.Close
}

// Elapsed reports whether the window has fully passed without firing.
// Always false for unbounded windows.
func (w Window) Elapsed(delta time.Duration) bool {
	return !w.Unbounded && delta <= w.Open
}

// Width returns the length of the eligibility interval.
func (w Window) Width() time.Duration { return w.Close - w.Open }

func (w Window) validate(tick time.Duration) error {
	if w.Unbounded {
		return nil
	}
	if w.Close < w.Open {
		return fmt.Errorf("window close %s before open %s", w.Close, w.Open)
	}
	// A window narrower than the tick interval can fall entirely between
	// two ticks and systematically miss items.
	if w.Width() <= tick {
		return fmt.Errorf("window width %s must exceed tick interval %s", w.Width(), tick)
	}
	return nil
}

// RecurringRule describes a wall-clock recurrence: fire at Hour:Minute in
// Timezone on the allowed weekdays (all days when Weekdays is empty).
//
// The rule is re-evaluated against the current instant on every tick, in
// the rule's own zone. Nothing is cached across ticks, so daylight-saving
// transitions are handled by construction.
type RecurringRule struct {
	Timezone string         `json:"tz"`
	Hour     int            `json:"hour"`
	Minute   int            `json:"minute"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

func (r *RecurringRule) Validate() error {
	if strings.TrimSpace(r.Timezone) == "" {
		return fmt.Errorf("rule: timezone is required")
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("rule: invalid timezone %q: %w", r.Timezone, err)
	}
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("rule: hour %d out of range", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("rule: minute %d out of range", r.Minute)
	}
	for _, d := range r.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("rule: invalid weekday %d", d)
		}
	}
	return nil
}

// Occurrence evaluates the rule at now. It returns today's target instant
// (UTC) and the local calendar date key used as the once-per-day marker.
// ok is false when today's weekday is not allowed by the rule.
func (r *RecurringRule) Occurrence(now time.Time) (target time.Time, dateKey string, ok bool, err error) {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("rule: load timezone %q: %w", r.Timezone, err)
	}
	local := now.In(loc)
	dateKey = local.Format("2006-01-02")

	if len(r.Weekdays) > 0 {
		allowed := false
		for _, d := range r.Weekdays {
			if local.Weekday() == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return time.Time{}, dateKey, false, nil
		}
	}

	target = time.Date(local.Year(), local.Month(), local.Day(), r.Hour, r.Minute, 0, 0, loc).UTC()
	return target, dateKey, true, nil
}
