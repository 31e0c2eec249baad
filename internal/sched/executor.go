package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"unionbot/pkg/logx"
)

// Handler performs the side effect for one due (item, phase) pair and
// returns an opaque result reference (e.g. the delivered message id).
// Handlers own their internal idempotency checks where external duplication
// would be harmful even under at-least-once semantics.
type Handler interface {
	Execute(ctx context.Context, it *Item, phase string) (ref string, err error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, it *Item, phase string) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, it *Item, phase string) (string, error) {
	return f(ctx, it, phase)
}

// Executor dispatches due pairs to per-kind handlers with a bounded per-call
// timeout and a single-flight guard per (item, phase) pair. Different phases
// of the same item may run independently.
type Executor struct {
	log     logx.Logger
	timeout time.Duration

	mu       sync.Mutex
	handlers map[Kind]Handler
	inflight map[string]struct{}
}

func NewExecutor(timeout time.Duration, log logx.Logger) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		log:      log,
		timeout:  timeout,
		handlers: make(map[Kind]Handler),
		inflight: make(map[string]struct{}),
	}
}

func (e *Executor) Register(kind Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// Execute runs the handler for one due pair. A slow external call is cut off
// by the per-call timeout so it cannot stall the owning scanner loop beyond
// one tick.
func (e *Executor) Execute(ctx context.Context, it *Item, phase string) (ref string, err error) {
	key := string(it.Kind) + "/" + it.ScopeID + "/" + it.ID + "/" + phase

	e.mu.Lock()
	h, ok := e.handlers[it.Kind]
	if !ok {
		e.mu.Unlock()
		return "", fmt.Errorf("no handler registered for kind %s", it.Kind)
	}
	if _, busy := e.inflight[key]; busy {
		e.mu.Unlock()
		return "", errInFlight
	}
	e.inflight[key] = struct{}{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in handler",
				logx.String("kind", string(it.Kind)),
				logx.String("item", it.ID),
				logx.String("phase", phase),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			ref = ""
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h.Execute(runCtx, it, phase)
}
