package sched

import (
	"encoding/json"
	"time"
)

// Kind selects the behavior of an item: its tick interval, phase set and
// handler.
type Kind string

const (
	KindAnnouncement Kind = "announcement"
	KindReminder     Kind = "reminder"
	KindGiveawayEnd  Kind = "giveaway_end"
	KindTicketClose  Kind = "ticket_close"
	KindDailyAlert   Kind = "daily_alert"
)

// State is the lifecycle state of an item. A pending item is part of the
// scanner's working set; fired and cancelled items are not.
type State string

const (
	StatePending   State = "pending"
	StateFired     State = "fired"
	StateCancelled State = "cancelled"
)

// Phase names used by the built-in kinds.
const (
	PhaseDeliver = "deliver"
	PhaseRemind  = "remind"
	PhaseUpdate  = "update"
	PhaseEnd     = "end"
	PhaseClose   = "close"
	PhaseAlert   = "alert"
)

// Item is a persisted unit of future work.
//
// Exactly one of At (single-shot) and Rule (recurring) is set. At is
// immutable once stored; cancellation flips State, it never rewrites the
// target. Phase flags are monotonic: once true they are never reset.
type Item struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	ScopeID string `json:"scope_id"`

	At   time.Time      `json:"at,omitempty"`
	Rule *RecurringRule `json:"rule,omitempty"`

	Phases     map[string]bool   `json:"phases"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	ResultRefs map[string]string `json:"result_refs,omitempty"`

	State State `json:"state"`

	// LastFired is the local calendar date (rule timezone, 2006-01-02)
	// most recently fired by a recurring item.
	LastFired string `json:"last_fired,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recurring reports whether the item follows a calendar rule instead of a
// single-shot target instant.
func (it *Item) Recurring() bool { return it.Rule != nil }

// PhaseFired reports whether the named phase has already fired.
func (it *Item) PhaseFired(name string) bool { return it.Phases[name] }

// Ref returns the result reference recorded for a phase, if any.
func (it *Item) Ref(phase string) string { return it.ResultRefs[phase] }

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state without an explicit Upsert.
func (it *Item) Clone() *Item {
	cp := *it
	if it.Rule != nil {
		r := *it.Rule
		if len(it.Rule.Weekdays) > 0 {
			r.Weekdays = append([]time.Weekday(nil), it.Rule.Weekdays...)
		}
		cp.Rule = &r
	}
	if it.Phases != nil {
		cp.Phases = make(map[string]bool, len(it.Phases))
		for k, v := range it.Phases {
			cp.Phases[k] = v
		}
	}
	if it.ResultRefs != nil {
		cp.ResultRefs = make(map[string]string, len(it.ResultRefs))
		for k, v := range it.ResultRefs {
			cp.ResultRefs[k] = v
		}
	}
	if it.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), it.Payload...)
	}
	return &cp
}
