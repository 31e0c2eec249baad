package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"unionbot/pkg/logx"
)

// Scanner is the tick loop for one kind. Each tick loads the pending
// working set per tenant scope, evaluates delivery windows against now and
// dispatches due pairs to the executor. It never marks a phase fired
// itself; that happens through the ledger only after the executor returned
// success.
//
// RunOnce is the whole tick and is safe to call directly with a fixed
// clock; the service drives it from a cron entry with the wall clock.
type Scanner struct {
	spec   KindSpec
	store  Store
	ledger *Ledger
	exec   *Executor
	log    logx.Logger

	mu       sync.Mutex
	running  bool
	lastTick time.Time
	lastErr  string
	pending  int
}

func NewScanner(spec KindSpec, store Store, exec *Executor, log logx.Logger) *Scanner {
	return &Scanner{
		spec:   spec,
		store:  store,
		ledger: NewLedger(store),
		exec:   exec,
		log:    log.With(logx.String("kind", string(spec.Kind))),
	}
}

// RunOnce performs one tick. Overlapping calls are skipped, not queued: if
// the previous tick of this kind is still executing, the new one returns
// immediately so a stuck tick never piles up work (other kinds have their
// own scanners and are unaffected).
func (s *Scanner) RunOnce(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug("tick still running; skipping")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	pending, err := s.tick(ctx, now.UTC())

	s.mu.Lock()
	s.pending = pending
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastErr = ""
		s.lastTick = now
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("tick aborted", logx.Err(err))
	}
	return err
}

// tick aborts on store errors (no partial writes; the next interval
// retries) but isolates per-item handler failures.
func (s *Scanner) tick(ctx context.Context, now time.Time) (int, error) {
	scopes, err := s.store.Scopes(ctx, s.spec.Kind)
	if err != nil {
		return 0, &StoreError{Op: "scopes", Err: err}
	}

	pending := 0
	for _, scope := range scopes {
		items, err := s.store.Scan(ctx, s.spec.Kind, scope)
		if err != nil {
			return pending, &StoreError{Op: "scan", Err: err}
		}
		pending += len(items)
		for _, it := range items {
			if it.State != StatePending {
				continue
			}
			if err := s.scanItem(ctx, now, it); err != nil {
				return pending, err
			}
		}
	}
	return pending, nil
}

func (s *Scanner) scanItem(ctx context.Context, now time.Time, it *Item) error {
	if s.spec.Recurring || it.Recurring() {
		return s.scanRecurring(ctx, now, it)
	}

	delta := it.At.Sub(now)
	for _, p := range s.spec.Phases {
		if s.ledger.Fired(it, p.Name) {
			continue
		}
		if p.Requires != "" && !s.ledger.Fired(it, p.Requires) {
			// Prerequisite not fired yet; re-evaluate next tick.
			continue
		}

		switch {
		case p.Window.Contains(delta):
			if err := s.execute(ctx, it, p.Name); err != nil {
				return err
			}
		case p.Window.Elapsed(delta):
			// Advisory window fully elapsed (typically across a restart):
			// drop the action instead of firing late.
			s.log.Info("phase window elapsed; marking without effect",
				logx.String("item", it.ID), logx.String("phase", p.Name),
				logx.Duration("delta", delta))
			if err := s.ledger.MarkFired(ctx, it, p.Name, "expired"); err != nil {
				return err
			}
		}
	}

	return s.finalize(ctx, it)
}

func (s *Scanner) scanRecurring(ctx context.Context, now time.Time, it *Item) error {
	if it.Rule == nil {
		s.log.Warn("recurring item without rule", logx.String("item", it.ID))
		return nil
	}
	target, dateKey, ok, err := it.Rule.Occurrence(now)
	if err != nil {
		s.log.Error("rule evaluation failed", logx.String("item", it.ID), logx.Err(err))
		return nil
	}
	if !ok || it.LastFired == dateKey {
		// Not an allowed weekday, or today already fired.
		return nil
	}

	p := s.spec.Phases[0]
	if !p.Window.Contains(target.Sub(now)) {
		return nil
	}

	ref, fired := s.runHandler(ctx, it, p.Name)
	if !fired {
		return nil
	}
	return s.ledger.MarkDay(ctx, it, dateKey, ref)
}

// execute dispatches and records one due pair. When the ledger write fails
// the effect has already happened; the error aborts the tick and the pair
// is retried at-least-once on the next interval.
func (s *Scanner) execute(ctx context.Context, it *Item, phase string) error {
	ref, fired := s.runHandler(ctx, it, phase)
	if !fired {
		return nil
	}
	return s.ledger.MarkFired(ctx, it, phase, ref)
}

// runHandler dispatches one due pair and interprets the result. fired=true
// means the phase should be recorded (with or without effect); false leaves
// it unset for a later tick.
func (s *Scanner) runHandler(ctx context.Context, it *Item, phase string) (ref string, fired bool) {
	ref, err := s.exec.Execute(ctx, it, phase)
	switch {
	case err == nil:
		s.log.Info("phase fired",
			logx.String("item", it.ID), logx.String("phase", phase), logx.String("ref", ref))
		return ref, true
	case errors.Is(err, errInFlight), errors.Is(err, ErrNotReady):
		return "", false
	case errors.Is(err, ErrTargetGone):
		// Record as fired-without-effect so the pair is never retried.
		s.log.Warn("target gone; marking without effect",
			logx.String("item", it.ID), logx.String("phase", phase), logx.Err(err))
		return "gone", true
	case IsTransient(err):
		s.log.Debug("transient failure; will retry",
			logx.String("item", it.ID), logx.String("phase", phase), logx.Err(err))
		return "", false
	default:
		// One item's failure never blocks its siblings.
		s.log.Error("handler failed",
			logx.String("item", it.ID), logx.String("phase", phase), logx.Err(err))
		return "", false
	}
}

// finalize retires an item whose applicable phases have all fired.
func (s *Scanner) finalize(ctx context.Context, it *Item) error {
	for _, p := range s.spec.Phases {
		if !s.ledger.Fired(it, p.Name) {
			return nil
		}
	}
	if s.spec.Retain {
		it.State = StateFired
		it.UpdatedAt = time.Now().UTC()
		if err := s.store.Upsert(ctx, it); err != nil {
			return &StoreError{Op: "retire", Err: err}
		}
		return nil
	}
	if err := s.store.Delete(ctx, it.Kind, it.ScopeID, it.ID); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Status returns the operational counters for this kind's loop.
func (s *Scanner) Status() (pending int, lastTick time.Time, lastErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.lastTick, s.lastErr
}
