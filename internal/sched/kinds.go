package sched

import (
	"fmt"
	"time"
)

// PhaseSpec configures one phase of a kind. Phases are evaluated in order;
// a phase with Requires set is skipped until the named earlier phase has
// fired (it reschedules to the next tick, it does not error).
type PhaseSpec struct {
	Name     string
	Window   Window
	Requires string
}

// KindSpec is the per-kind strategy: how often to scan, which phases exist
// and what happens to an item once every phase has fired.
type KindSpec struct {
	Kind Kind

	// TickEvery is the scanner interval for this kind. Intervals are
	// deliberately not uniform: cheap advisory kinds scan often, the
	// ticket sweep only every few minutes.
	TickEvery time.Duration

	Phases []PhaseSpec

	// Retain keeps fired items in the store (calendar events whose result
	// may still be patched, giveaways that can be rerolled). Non-retained
	// items are deleted once terminal.
	Retain bool

	// Recurring kinds never terminate; they carry a per-day marker instead
	// of phase flags.
	Recurring bool
}

func (ks KindSpec) phase(name string) (PhaseSpec, bool) {
	for _, p := range ks.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseSpec{}, false
}

func (ks KindSpec) validate() error {
	if ks.TickEvery <= 0 {
		return fmt.Errorf("kind %s: tick interval must be positive", ks.Kind)
	}
	if len(ks.Phases) == 0 {
		return fmt.Errorf("kind %s: at least one phase required", ks.Kind)
	}
	for _, p := range ks.Phases {
		if err := p.Window.validate(ks.TickEvery); err != nil {
			return fmt.Errorf("kind %s phase %s: %w", ks.Kind, p.Name, err)
		}
		if p.Requires != "" {
			if _, ok := ks.phase(p.Requires); !ok {
				return fmt.Errorf("kind %s phase %s: requires unknown phase %s", ks.Kind, p.Name, p.Requires)
			}
		}
	}
	return nil
}

// DefaultKinds returns the built-in kind catalog. Tick intervals and windows
// can be overridden per kind from config.
func DefaultKinds() map[Kind]KindSpec {
	return map[Kind]KindSpec{
		KindAnnouncement: {
			Kind:      KindAnnouncement,
			TickEvery: 20 * time.Second,
			Phases: []PhaseSpec{
				{Name: PhaseDeliver, Window: Window{Close: 0, Unbounded: true}},
			},
		},
		KindReminder: {
			Kind:      KindReminder,
			TickEvery: time.Minute,
			Retain:    true,
			Phases: []PhaseSpec{
				// Heads-up roughly half an hour ahead. Bounded: a stale
				// heads-up is worse than none.
				{Name: PhaseRemind, Window: Window{Open: 2 * time.Minute, Close: 30 * time.Minute}},
				{Name: PhaseDeliver, Window: Window{Open: -2 * time.Minute, Close: 0}},
				// Patch the delivered message once the actual value shows
				// up; give up after a day.
				{Name: PhaseUpdate, Window: Window{Open: -24 * time.Hour, Close: 0}, Requires: PhaseDeliver},
			},
		},
		KindGiveawayEnd: {
			Kind:      KindGiveawayEnd,
			TickEvery: 30 * time.Second,
			Retain:    true,
			Phases: []PhaseSpec{
				{Name: PhaseEnd, Window: Window{Close: 0, Unbounded: true}},
			},
		},
		KindTicketClose: {
			Kind:      KindTicketClose,
			TickEvery: 10 * time.Minute,
			Phases: []PhaseSpec{
				// Due from creation on; the handler judges idleness and
				// returns ErrNotReady while the ticket is still active.
				{Name: PhaseClose, Window: Window{Close: 0, Unbounded: true}},
			},
		},
		KindDailyAlert: {
			Kind:      KindDailyAlert,
			TickEvery: time.Minute,
			Recurring: true,
			Phases: []PhaseSpec{
				{Name: PhaseAlert, Window: Window{Open: -10 * time.Minute, Close: 0}},
			},
		},
	}
}
