package sched

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"unionbot/pkg/logx"
)

// createGrace is how stale a single-shot target may be at validation time.
// Callers computing "end now" produce a target that is already microseconds
// old when it reaches Create; only genuinely past targets are rejected.
const createGrace = time.Second

// CreateRequest is the inbound contract for event source adapters and
// operator commands. Exactly one of At and Rule must be set.
type CreateRequest struct {
	ID      string
	Kind    Kind
	ScopeID string
	At      time.Time
	Rule    *RecurringRule
	Payload json.RawMessage
}

// Create validates synchronously and persists a new pending item. A request
// that fails validation is rejected before anything is written.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Item, error) {
	spec, ok := s.kinds[req.Kind]
	if !ok {
		return nil, &ValidationError{Field: "kind", Reason: "unknown kind " + string(req.Kind)}
	}
	if strings.TrimSpace(req.ScopeID) == "" {
		return nil, &ValidationError{Field: "scope_id", Reason: "must not be empty"}
	}

	now := time.Now().UTC()
	switch {
	case spec.Recurring:
		if req.Rule == nil {
			return nil, &ValidationError{Field: "rule", Reason: "kind " + string(req.Kind) + " requires a recurring rule"}
		}
		if !req.At.IsZero() {
			return nil, &ValidationError{Field: "at", Reason: "recurring kinds take a rule, not a target time"}
		}
		if err := req.Rule.Validate(); err != nil {
			return nil, &ValidationError{Field: "rule", Reason: err.Error()}
		}
	default:
		if req.Rule != nil {
			return nil, &ValidationError{Field: "rule", Reason: "kind " + string(req.Kind) + " takes a target time, not a rule"}
		}
		if req.At.IsZero() {
			return nil, &ValidationError{Field: "at", Reason: "target time is required"}
		}
		if now.Sub(req.At) > createGrace {
			return nil, &ValidationError{Field: "at", Reason: "target time already in the past"}
		}
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = newItemID()
	} else {
		existing, err := s.store.Get(ctx, req.Kind, req.ScopeID, id)
		if err != nil {
			return nil, &StoreError{Op: "get", Err: err}
		}
		if existing != nil {
			return nil, &ValidationError{Field: "id", Reason: "item " + id + " already exists"}
		}
	}

	it := &Item{
		ID:         id,
		Kind:       req.Kind,
		ScopeID:    req.ScopeID,
		At:         req.At.UTC(),
		Rule:       req.Rule,
		Phases:     make(map[string]bool, len(spec.Phases)),
		Payload:    req.Payload,
		ResultRefs: make(map[string]string),
		State:      StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if spec.Recurring {
		it.At = time.Time{}
	}
	if err := s.store.Upsert(ctx, it); err != nil {
		return nil, &StoreError{Op: "upsert", Err: err}
	}
	s.log.Info("item created",
		logx.String("kind", string(it.Kind)), logx.String("scope", it.ScopeID), logx.String("item", it.ID))
	return it, nil
}

// Cancel flips a pending item to cancelled. The target time is left
// untouched; the next tick of the owning scanner no longer sees the item.
func (s *Service) Cancel(ctx context.Context, kind Kind, scope, id string) error {
	it, err := s.store.Get(ctx, kind, scope, id)
	if err != nil {
		return &StoreError{Op: "get", Err: err}
	}
	if it == nil {
		return ErrNotFound
	}
	if it.State != StatePending {
		return ErrNotFound
	}
	it.State = StateCancelled
	it.UpdatedAt = time.Now().UTC()
	if err := s.store.Upsert(ctx, it); err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	s.log.Info("item cancelled",
		logx.String("kind", string(it.Kind)), logx.String("scope", it.ScopeID), logx.String("item", it.ID))
	return nil
}

// List returns the pending items of one kind within one scope, for
// operator visibility.
func (s *Service) List(ctx context.Context, kind Kind, scope string) ([]*Item, error) {
	if _, ok := s.kinds[kind]; !ok {
		return nil, &ValidationError{Field: "kind", Reason: "unknown kind " + string(kind)}
	}
	items, err := s.store.Scan(ctx, kind, scope)
	if err != nil {
		return nil, &StoreError{Op: "scan", Err: err}
	}
	return items, nil
}

// Get returns a single item in any state.
func (s *Service) Get(ctx context.Context, kind Kind, scope, id string) (*Item, error) {
	it, err := s.store.Get(ctx, kind, scope, id)
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	if it == nil {
		return nil, ErrNotFound
	}
	return it, nil
}
