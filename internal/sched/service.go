package sched

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"unionbot/pkg/logx"
)

// Config controls the scheduler service. Zero values fall back to the
// built-in kind catalog and a 10s per-call executor timeout.
type Config struct {
	// ExecTimeout bounds every single handler call.
	ExecTimeout time.Duration

	// Ticks overrides the scan interval per kind.
	Ticks map[Kind]time.Duration

	// Windows overrides phase windows per kind ("kind" -> "phase" -> Window).
	Windows map[Kind]map[string]Window
}

// Service owns one scanner per kind and drives them from @every cron
// entries. The cron layer only provides the ticking; all scheduling
// decisions live in the scanners.
type Service struct {
	log   logx.Logger
	store Store
	exec  *Executor

	kinds    map[Kind]KindSpec
	scanners map[Kind]*Scanner

	mu      sync.Mutex
	c       *cron.Cron
	started bool
}

func New(cfg Config, store Store, log logx.Logger) (*Service, error) {
	kinds := DefaultKinds()
	for k, tick := range cfg.Ticks {
		ks, ok := kinds[k]
		if !ok {
			return nil, fmt.Errorf("tick override for unknown kind %s", k)
		}
		ks.TickEvery = tick
		kinds[k] = ks
	}
	for k, phases := range cfg.Windows {
		ks, ok := kinds[k]
		if !ok {
			return nil, fmt.Errorf("window override for unknown kind %s", k)
		}
		for name, w := range phases {
			found := false
			for i := range ks.Phases {
				if ks.Phases[i].Name == name {
					ks.Phases[i].Window = w
					found = true
				}
			}
			if !found {
				return nil, fmt.Errorf("window override for unknown phase %s/%s", k, name)
			}
		}
		kinds[k] = ks
	}
	for _, ks := range kinds {
		if err := ks.validate(); err != nil {
			return nil, err
		}
	}

	exec := NewExecutor(cfg.ExecTimeout, log)
	s := &Service{
		log:      log,
		store:    store,
		exec:     exec,
		kinds:    kinds,
		scanners: make(map[Kind]*Scanner, len(kinds)),
	}
	for k, ks := range kinds {
		s.scanners[k] = NewScanner(ks, store, exec, log)
	}
	return s, nil
}

// Register installs the handler for a kind. Kinds without a handler are
// scanned but their due pairs fail dispatch, so wiring registers handlers
// before Start.
func (s *Service) Register(kind Kind, h Handler) error {
	if _, ok := s.kinds[kind]; !ok {
		return fmt.Errorf("unknown kind %s", kind)
	}
	s.exec.Register(kind, h)
	return nil
}

// Scanner exposes a kind's scanner, mainly so operator commands and tests
// can force a synchronous tick.
func (s *Service) Scanner(kind Kind) (*Scanner, bool) {
	sc, ok := s.scanners[kind]
	return sc, ok
}

// Start launches one @every cron entry per kind. On startup pending items
// are simply re-scanned by the first ticks; the window checks are
// restart-agnostic, so there is no separate catch-up path.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	c := cron.New()
	for k, sc := range s.scanners {
		kind, scanner := k, sc
		spec := fmt.Sprintf("@every %s", s.kinds[k].TickEvery)
		if _, err := c.AddFunc(spec, func() {
			_ = scanner.RunOnce(ctx, time.Now())
		}); err != nil {
			return fmt.Errorf("schedule kind %s: %w", kind, err)
		}
	}
	c.Start()
	s.c = c
	s.started = true

	s.log.Info("scheduler started", logx.Int("kinds", len(s.scanners)))
	return nil
}

// Stop halts ticking and waits for in-flight ticks started by cron to
// finish (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func newItemID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("itm_%d", time.Now().UnixNano())
	}
	return "itm_" + hex.EncodeToString(b[:])
}

func sortedKinds(m map[Kind]KindSpec) []Kind {
	out := make([]Kind, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
