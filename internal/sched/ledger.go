package sched

import (
	"context"
	"time"
)

// Ledger records which phases have already fired. It is a thin wrapper over
// the store: flags are never cached in process, every scan re-reads them, so
// a restart or a second scheduler instance cannot resurrect an item that was
// already delivered.
//
// MarkFired is called only after the side effect observably succeeded
// (write-after-effect). A crash between effect and write duplicates the
// action on the next tick; that is the accepted cost of never losing one.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger { return &Ledger{store: store} }

// Fired reports whether the phase flag is set on the loaded item.
func (l *Ledger) Fired(it *Item, phase string) bool { return it.Phases[phase] }

// MarkFired sets the phase flag (monotonic: never unset again), records the
// result ref produced by the effect, and persists the item.
func (l *Ledger) MarkFired(ctx context.Context, it *Item, phase, ref string) error {
	if it.Phases == nil {
		it.Phases = make(map[string]bool, 1)
	}
	it.Phases[phase] = true
	if ref != "" {
		if it.ResultRefs == nil {
			it.ResultRefs = make(map[string]string, 1)
		}
		it.ResultRefs[phase] = ref
	}
	it.UpdatedAt = time.Now().UTC()
	if err := l.store.Upsert(ctx, it); err != nil {
		return &StoreError{Op: "mark fired", Err: err}
	}
	return nil
}

// MarkDay advances a recurring item's once-per-day marker to the given
// local calendar date.
func (l *Ledger) MarkDay(ctx context.Context, it *Item, dateKey, ref string) error {
	it.LastFired = dateKey
	if ref != "" {
		if it.ResultRefs == nil {
			it.ResultRefs = make(map[string]string, 1)
		}
		it.ResultRefs[PhaseAlert] = ref
	}
	it.UpdatedAt = time.Now().UTC()
	if err := l.store.Upsert(ctx, it); err != nil {
		return &StoreError{Op: "mark day", Err: err}
	}
	return nil
}
